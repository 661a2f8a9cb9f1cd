// ABOUTME: Pattern-based extraction of vulnerability identifiers from free text.
// ABOUTME: Used by news and social connectors; independent of any network access.

package extract

import (
	"regexp"
	"strings"
)

// cvePattern accepts CVE-YYYY-NNNN with four or more sequence digits.
// Dashes may be typographic (en/em dash) or underscores in slugs.
var cvePattern = regexp.MustCompile(`(?i)\bCVE[-‐‑–—_ ](\d{4})[-‐‑–—_ ](\d{4,7})\b`)

var canonicalPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,7}$`)

// Identifiers returns the distinct identifiers found in text, canonicalised to
// upper-case CVE-YYYY-NNNN form, in order of first appearance.
func Identifiers(text string) []string {
	matches := cvePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := "CVE-" + m[1] + "-" + m[2]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// FromFields extracts identifiers across several text fields, deduplicating
// across all of them.
func FromFields(fields ...string) []string {
	return Identifiers(strings.Join(fields, "\n"))
}

// Normalize canonicalises a single identifier coming from a structured field.
// It returns false when the value is not a well-formed identifier.
func Normalize(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if !canonicalPattern.MatchString(id) {
		return "", false
	}
	return id, true
}
