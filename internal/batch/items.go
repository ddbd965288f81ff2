package batch

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTargetID returns the canonical form of a target identifier used
// for duplicate detection. File paths from different sources (shell globs,
// drag-and-drop, directory walks) can differ only in Unicode normalization,
// so identifiers are compared in NFC.
func NormalizeTargetID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// Dedupe removes items whose normalized TargetID was already seen. The first
// occurrence wins and submission order is preserved. Items with a blank
// identifier are dropped and counted separately from duplicates.
func Dedupe(items []WorkItem) (kept []WorkItem, duplicates, blank int) {
	seen := make(map[string]struct{}, len(items))
	kept = make([]WorkItem, 0, len(items))

	for i := range items {
		key := NormalizeTargetID(items[i].TargetID)
		if key == "" {
			blank++
			continue
		}

		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		kept = append(kept, items[i])
	}

	return kept, len(items) - len(kept) - blank, blank
}

// NewWorkItems builds unclassified work items for the given targets.
func NewWorkItems(targets []string) []WorkItem {
	items := make([]WorkItem, 0, len(targets))
	for _, t := range targets {
		items = append(items, WorkItem{TargetID: t})
	}

	return items
}
