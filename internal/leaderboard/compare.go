package leaderboard

import (
	"fmt"
	"strings"

	"roadtest.ai/internal/model"
)

// Page slices all the way the records endpoint does.
func Page(all []model.Record, start, maxItems int) []model.Record {
	if maxItems > model.MaxRecordsPage {
		maxItems = model.MaxRecordsPage
	}
	if start < 0 || start >= len(all) || maxItems <= 0 {
		return []model.Record{}
	}
	end := start + maxItems
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

type CompareOptions struct {
	// Tol is the absolute tolerance for score and play time.
	Tol float64
	// PlayTime enables play time comparison.
	PlayTime bool
}

// Mismatch describes the first disagreement found by ComparePage.
type Mismatch struct {
	Index  int
	Reason string
	Got    any
	Want   any
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("records[%d]: %s: got %v, want %v", m.Index, m.Reason, m.Got, m.Want)
}

// ComparePage checks a page fetched with (start, maxItems) against the full
// expected leaderboard all, which must already be sorted. Records with
// equal scores may come back in any order, including across the page
// boundary.
func ComparePage(got, all []model.Record, start, maxItems int, opt CompareOptions) error {
	want := Page(all, start, maxItems)
	if len(got) != len(want) {
		return &Mismatch{Index: -1, Reason: "length", Got: len(got), Want: len(want)}
	}

	byName := map[string][]model.Record{}
	for _, r := range all {
		byName[r.Name] = append(byName[r.Name], r)
	}
	used := map[string]int{}

	for i := range got {
		if i > 0 && got[i].Score > got[i-1].Score && !model.CloseEnough(got[i].Score, got[i-1].Score, opt.Tol) {
			return &Mismatch{Index: i, Reason: "not sorted by descending score", Got: got[i].Score, Want: got[i-1].Score}
		}
		if !model.CloseEnough(got[i].Score, want[i].Score, opt.Tol) {
			return &Mismatch{Index: i, Reason: "score", Got: got[i].Score, Want: want[i].Score}
		}
		cands := byName[got[i].Name]
		k := used[got[i].Name]
		if k >= len(cands) {
			return &Mismatch{Index: i, Reason: "unexpected name", Got: got[i].Name, Want: names(want)}
		}
		used[got[i].Name] = k + 1
		exp := cands[k]
		if !model.CloseEnough(got[i].Score, exp.Score, opt.Tol) {
			return &Mismatch{Index: i, Reason: "score of " + exp.Name, Got: got[i].Score, Want: exp.Score}
		}
		if opt.PlayTime && !model.CloseEnough(got[i].PlayTime, exp.PlayTime, opt.Tol) {
			return &Mismatch{Index: i, Reason: "play time of " + exp.Name, Got: got[i].PlayTime, Want: exp.PlayTime}
		}
	}
	return nil
}

// Compare checks a full first page.
func Compare(got, all []model.Record, opt CompareOptions) error {
	return ComparePage(got, all, 0, model.MaxRecordsPage, opt)
}

func names(recs []model.Record) string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return strings.Join(out, ", ")
}
