package review

import "strings"

// DiffOp classifies one line of a Diff.
type DiffOp string

const (
	DiffAdded     DiffOp = "added"
	DiffRemoved   DiffOp = "removed"
	DiffUnchanged DiffOp = "unchanged"
)

// DiffLine is one entry of a line-based diff. LineFrom/LineTo are 1-based
// line numbers in the "from" and "to" sequences respectively; the side that
// doesn't apply to this Op is left at 0.
type DiffLine struct {
	Op       DiffOp `json:"op"`
	Text     string `json:"text"`
	LineFrom int    `json:"lineFrom,omitempty"`
	LineTo   int    `json:"lineTo,omitempty"`
}

// DiffStats aggregates counts across a Diff's lines.
type DiffStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Unchanged int `json:"unchanged"`
}

// Diff is the result of comparing two document contents line by line.
type Diff struct {
	Lines []DiffLine `json:"lines"`
	Stats DiffStats  `json:"stats"`
}

// DiffContent computes a line-based LCS diff between from and to, splitting
// both on "\n". Ties during LCS backtracking resolve deterministically (see
// backtrack), so the result is stable regardless of implementation language.
func DiffContent(from, to string) Diff {
	a := splitLines(from)
	b := splitLines(to)

	lcs := buildLCSTable(a, b)
	lines := backtrack(lcs, a, b, len(a), len(b))

	var stats DiffStats
	for _, l := range lines {
		switch l.Op {
		case DiffAdded:
			stats.Additions++
		case DiffRemoved:
			stats.Deletions++
		case DiffUnchanged:
			stats.Unchanged++
		}
	}

	return Diff{Lines: lines, Stats: stats}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// buildLCSTable computes the standard dynamic-programming LCS length table,
// sized (len(a)+1) x (len(b)+1).
func buildLCSTable(a, b []string) [][]int {
	n, m := len(a), len(b)
	table := make([][]int, n+1)
	for i := range table {
		table[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}
	return table
}

// backtrack walks the LCS table from (i, j) forward to (n, m), emitting
// unchanged/removed/added lines. On a tie between advancing "down" (removed,
// consume a) and "right" (added, consume b), removed wins -- a changed line
// is reported as "removed then added", the order standard end-to-start LCS
// backtracking converges on and that SPEC_FULL.md's worked example expects.
func backtrack(table [][]int, a, b []string, n, m int) []DiffLine {
	var lines []DiffLine
	i, j := 0, 0
	lineFrom, lineTo := 1, 1

	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			lines = append(lines, DiffLine{Op: DiffUnchanged, Text: a[i], LineFrom: lineFrom, LineTo: lineTo})
			i++
			j++
			lineFrom++
			lineTo++
		case table[i+1][j] >= table[i][j+1]:
			// Tie or removing is at least as good: consume a's line first.
			lines = append(lines, DiffLine{Op: DiffRemoved, Text: a[i], LineFrom: lineFrom})
			i++
			lineFrom++
		default:
			// Strictly better to add: consume b's line.
			lines = append(lines, DiffLine{Op: DiffAdded, Text: b[j], LineTo: lineTo})
			j++
			lineTo++
		}
	}
	for i < n {
		lines = append(lines, DiffLine{Op: DiffRemoved, Text: a[i], LineFrom: lineFrom})
		i++
		lineFrom++
	}
	for j < m {
		lines = append(lines, DiffLine{Op: DiffAdded, Text: b[j], LineTo: lineTo})
		j++
		lineTo++
	}
	return lines
}
