// Package fuzz scores how alike two strings are.
package fuzz

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Ratio returns a similarity score in [0, 100]: 100·(1 − d/(len(a)+len(b)))
// where d is the number of runes inserted or deleted by an optimal diff.
// Two empty strings are identical. The score is not rounded, so callers
// comparing against a threshold see 79.5 as below 80.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMain(a, b, false)

	edits := 0
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			edits += utf8.RuneCountInString(d.Text)
		}
	}
	return 100 * float64(total-edits) / float64(total)
}
