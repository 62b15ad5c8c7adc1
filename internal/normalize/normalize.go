// Package normalize canonicalizes message text into the equality key used
// for learning and matching.
package normalize

import (
	"regexp"
	"strings"
)

// Rich-content markers of the form [CQ:type,...] embed volatile fields
// (download URLs, subtypes) that differ between deliveries of the same
// content. They are stripped down to the stable part before comparison.
var volatileFields = regexp.MustCompile(`(\[CQ:[^,\]]+)(?:,[^\]]*)?(\])`)

// Normalize returns the canonical form of raw, or "" when nothing
// comparable remains (whitespace-only or marker-only messages).
func Normalize(raw string) string {
	s := volatileFields.ReplaceAllString(raw, "$1$2")
	return strings.TrimSpace(s)
}

// SplitItems breaks a learned text into its send items, one per natural
// line, so pacing applies between lines of a multi-line answer.
func SplitItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}
