// Package fingerprint produces deterministic content hashes for lead
// payloads so unchanged re-deliveries can be skipped.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// volatileFields never participate in the fingerprint; they change on
// every sync without the lead itself changing
var volatileFields = map[string]bool{
	"id":              true,
	"lead_score":      true,
	"merged_from_ids": true,
	"fingerprint":     true,
	"created_at":      true,
	"updated_at":      true,
	"last_contact_at": true,
	"tombstoned_at":   true,
	"canonical_id":    true,
}

// Lead fingerprints the identity-bearing fields of a lead record
func Lead(lead *models.LeadRecord) string {
	data, _ := json.Marshal(lead)
	fp, err := FromJSON(data)
	if err != nil {
		return ""
	}
	return fp
}

// FromJSON fingerprints a raw lead payload, ignoring volatile fields
func FromJSON(data json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	return Generate(m), nil
}

// Generate creates a SHA256 fingerprint of the canonicalized map.
// Canonicalization sorts keys recursively so field order never matters.
func Generate(data map[string]any) string {
	return GenerateWithExclusions(data, volatileFields)
}

// GenerateWithExclusions creates a fingerprint excluding the given
// dot-notation field paths
func GenerateWithExclusions(data map[string]any, excludeFields map[string]bool) string {
	canonical := canonicalize(data, excludeFields, "")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// HasChanged compares two fingerprints to detect changes
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

func canonicalize(data any, excludeFields map[string]bool, currentPath string) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v, excludeFields, currentPath)
	case []any:
		return canonicalizeArray(v, excludeFields, currentPath)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func canonicalizeMap(m map[string]any, excludeFields map[string]bool, currentPath string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	first := true
	for _, k := range keys {
		fieldPath := k
		if currentPath != "" {
			fieldPath = currentPath + "." + k
		}

		if shouldExclude(fieldPath, excludeFields) {
			continue
		}

		if !first {
			b.WriteString(",")
		}
		first = false
		keyJSON, _ := json.Marshal(k)
		b.Write(keyJSON)
		b.WriteString(":")
		b.WriteString(canonicalize(m[k], excludeFields, fieldPath))
	}
	b.WriteString("}")
	return b.String()
}

func canonicalizeArray(arr []any, excludeFields map[string]bool, currentPath string) string {
	var b strings.Builder
	b.WriteString("[")
	for i, v := range arr {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(canonicalize(v, excludeFields, currentPath))
	}
	b.WriteString("]")
	return b.String()
}

func shouldExclude(fieldPath string, excludeFields map[string]bool) bool {
	if excludeFields == nil {
		return false
	}

	if excludeFields[fieldPath] {
		return true
	}

	// Excluding a parent object excludes everything under it
	for excluded := range excludeFields {
		if strings.HasPrefix(fieldPath, excluded+".") {
			return true
		}
	}

	return false
}
