// Package matching implements per-field similarity scoring and
// confidence aggregation for duplicate lead detection
package matching

import (
	"strings"
	"unicode"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// minNationalDigits is the shortest phone that may match as a
// country-prefix-less form of a longer number
const minNationalDigits = 8

// fuzzyTokenThreshold is the Jaro-Winkler floor below which two name
// tokens are considered unrelated
const fuzzyTokenThreshold = 0.85

// Scorer provides string and per-field comparison algorithms.
// All methods are pure and deterministic.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// FieldScore computes the similarity in [0,1] for one lead field.
// Unparseable values never match anything.
func (s *Scorer) FieldScore(field models.Field, a, b normalizers.Value) float64 {
	if a.Unparseable || b.Unparseable {
		return 0.0
	}
	if a.IsEmpty() || b.IsEmpty() {
		return 0.0
	}

	switch field {
	case models.FieldEmail:
		// High-precision identifier: no partial credit
		if a.Canonical == b.Canonical {
			return 1.0
		}
		return 0.0
	case models.FieldPhone:
		if s.PhonesEqual(a.Canonical, b.Canonical) {
			return 1.0
		}
		return 0.0
	case models.FieldName:
		return s.NameSimilarity(a, b)
	case models.FieldLocation:
		return s.TokenJaccard(a.Tokens, b.Tokens)
	default:
		return s.ExactMatch(a.Canonical, b.Canonical, false)
	}
}

// PhonesEqual compares two digit-only phone numbers. Numbers differing
// only by a leading country prefix compare equal when the shorter side
// still carries a full national number.
func (s *Scorer) PhonesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	return len(shorter) >= minNationalDigits && strings.HasSuffix(longer, shorter)
}

// NameSimilarity blends token matching with edit distance.
// "Sarah Johnson" vs "Sarah J." scores high via initial matching;
// unrelated names stay near zero.
func (s *Scorer) NameSimilarity(a, b normalizers.Value) float64 {
	if a.Canonical == b.Canonical {
		return 1.0
	}

	tokenScore := s.tokenMatchScore(a.Tokens, b.Tokens)
	levScore := s.Levenshtein(a.Canonical, b.Canonical)

	if tokenScore > 0 {
		return 0.7*tokenScore + 0.3*levScore
	}
	// No related tokens: only a strong whole-string match (typo case)
	// earns credit, anything else is dampened toward zero
	if levScore >= 0.8 {
		return levScore
	}
	return levScore * 0.25
}

// tokenMatchScore matches each token of the shorter name against its best
// counterpart in the other name. Exact tokens count 1.0, initials 0.9,
// fuzzy tokens their Jaro-Winkler value; unrelated tokens count zero.
func (s *Scorer) tokenMatchScore(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	var sum float64
	for _, t := range shorter {
		best := 0.0
		for _, u := range longer {
			score := s.tokenPairScore(t, u)
			if score > best {
				best = score
			}
		}
		sum += best
	}
	return sum / float64(len(longer))
}

func (s *Scorer) tokenPairScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	// Single-letter initial against a full token starting with it
	if len(a) == 1 && strings.HasPrefix(b, a) {
		return 0.9
	}
	if len(b) == 1 && strings.HasPrefix(a, b) {
		return 0.9
	}
	if jw := s.JaroWinkler(a, b); jw >= fuzzyTokenThreshold {
		return jw
	}
	return 0.0
}

// TokenJaccard calculates token-set overlap (intersection / union)
func (s *Scorer) TokenJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	union := len(set)
	intersection := 0
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			intersection++
		} else {
			union++
		}
	}

	return float64(intersection) / float64(union)
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b string, caseSensitive bool) float64 {
	if !caseSensitive {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}
	if a == b {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := s.Jaro(a, b)

	// Winkler modification: boost for common prefix
	prefixLen := 0
	maxPrefix := 4
	for i := 0; i < len(a) && i < len(b) && i < maxPrefix; i++ {
		if a[i] == b[i] {
			prefixLen++
		} else {
			break
		}
	}

	scalingFactor := 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func (s *Scorer) Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	transpositions := 0

	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein calculates edit-distance similarity between 0.0 and 1.0
func (s *Scorer) Levenshtein(a, b string) float64 {
	distance := s.LevenshteinDistance(a, b)
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

// LevenshteinDistance calculates the edit distance between two strings
func (s *Scorer) LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(min(row[j-1]+1, prevRow[j]+1), prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}

// Soundex calculates the Soundex encoding of a string
func (s *Scorer) Soundex(str string) string {
	if len(str) == 0 {
		return ""
	}

	str = strings.ToUpper(str)

	result := string(str[0])
	prevCode := soundexCode(rune(str[0]))

	for i := 1; i < len(str) && len(result) < 4; i++ {
		char := rune(str[i])
		if !unicode.IsLetter(char) {
			continue
		}

		code := soundexCode(char)
		if code != "0" && code != prevCode {
			result += code
		}
		prevCode = code
	}

	for len(result) < 4 {
		result += "0"
	}

	return result
}

func soundexCode(char rune) string {
	switch char {
	case 'B', 'F', 'P', 'V':
		return "1"
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return "2"
	case 'D', 'T':
		return "3"
	case 'L':
		return "4"
	case 'M', 'N':
		return "5"
	case 'R':
		return "6"
	default:
		return "0"
	}
}
