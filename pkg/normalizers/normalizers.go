// Package normalizers provides field normalization for duplicate detection
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", strings.ToLower)
	Register("trim", strings.TrimSpace)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nname", NormalizeName)
	Register("digits_only", DigitsOnly)
	Register("strip_diacritics", StripDiacritics)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Value is the normalized form of a lead field, ready for comparison.
// An Unparseable value scores zero against everything instead of failing
// the scan that produced it.
type Value struct {
	Raw       string
	Canonical string
	Tokens    []string
	// Fuzzy marks values that carry initials or suffixes and should be
	// compared fuzzily rather than exactly (names only)
	Fuzzy       bool
	Unparseable bool
}

// IsEmpty reports whether there is nothing to compare
func (v Value) IsEmpty() bool {
	return v.Canonical == "" && len(v.Tokens) == 0
}

// LeadField normalizes a raw lead field value. Deterministic and pure;
// malformed input yields an Unparseable value, never an error.
func LeadField(field models.Field, raw string) Value {
	switch field {
	case models.FieldEmail:
		return emailValue(raw)
	case models.FieldPhone:
		return phoneValue(raw)
	case models.FieldName:
		return nameValue(raw)
	case models.FieldLocation:
		return locationValue(raw)
	default:
		return Value{Raw: raw, Canonical: strings.TrimSpace(strings.ToLower(raw))}
	}
}

func emailValue(raw string) Value {
	canonical := NormalizeEmail(raw)
	if canonical == "" {
		return Value{Raw: raw}
	}
	if !strings.Contains(canonical, "@") {
		return Value{Raw: raw, Unparseable: true}
	}
	return Value{Raw: raw, Canonical: canonical}
}

func phoneValue(raw string) Value {
	if strings.TrimSpace(raw) == "" {
		return Value{Raw: raw}
	}
	digits := DigitsOnly(raw)
	// Below five digits nothing can plausibly be a phone number
	if len(digits) < 5 {
		return Value{Raw: raw, Unparseable: true}
	}
	return Value{Raw: raw, Canonical: digits}
}

func nameValue(raw string) Value {
	canonical := NormalizeName(raw)
	if canonical == "" {
		return Value{Raw: raw}
	}
	tokens := strings.Fields(canonical)
	return Value{
		Raw:       raw,
		Canonical: canonical,
		Tokens:    tokens,
		Fuzzy:     hasInitialOrSuffix(raw, tokens),
	}
}

func locationValue(raw string) Value {
	s := StripDiacritics(strings.ToLower(raw))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	if len(tokens) == 0 {
		return Value{Raw: raw}
	}
	return Value{Raw: raw, Canonical: strings.Join(tokens, " "), Tokens: tokens}
}

// NormalizePhone removes all non-digit characters from a phone number
func NormalizePhone(s string) string {
	return DigitsOnly(s)
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName normalizes a person's name for matching:
// lowercase, diacritics stripped, punctuation removed, whitespace collapsed.
// Suffixes like "jr" are kept; they only flag the value for fuzzy comparison.
func NormalizeName(s string) string {
	s = StripDiacritics(strings.ToLower(s))

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) || r == '.' || r == ',' || r == '-' {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StripDiacritics removes combining marks ("José" -> "Jose")
func StripDiacritics(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return out
}

var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"phd": true, "md": true,
}

func hasInitialOrSuffix(raw string, tokens []string) bool {
	for _, t := range tokens {
		if len(t) == 1 || nameSuffixes[t] {
			return true
		}
	}
	// A trailing "J." style initial also survives as a dot in the raw form
	return strings.Contains(raw, ".")
}
