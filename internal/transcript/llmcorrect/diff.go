package llmcorrect

import "strings"

// Change is one contiguous run of words the model rewrote. Either side may
// be empty for pure insertions or deletions.
type Change struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// anchor pairs the index of a word kept by the model in the input with its
// index in the output.
type anchor struct {
	in, out int
}

// Diff aligns the words of before and after on their longest common
// subsequence and reports the gaps between aligned words.
func Diff(before, after string) []Change {
	if before == after {
		return nil
	}
	a, b := strings.Fields(before), strings.Fields(after)
	var changes []Change
	i, j := 0, 0
	for _, an := range lcs(a, b) {
		if i < an.in || j < an.out {
			changes = append(changes, change(a[i:an.in], b[j:an.out]))
		}
		i, j = an.in+1, an.out+1
	}
	if i < len(a) || j < len(b) {
		changes = append(changes, change(a[i:], b[j:]))
	}
	return changes
}

func change(before, after []string) Change {
	return Change{Before: strings.Join(before, " "), After: strings.Join(after, " ")}
}

// lcs returns the aligned word pairs of a and b. Dictations are short, the
// quadratic table is fine.
func lcs(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	out := make([]anchor, dp[m][n])
	i, j, k := m, n, len(out)-1
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			out[k] = anchor{in: i - 1, out: j - 1}
			i, j, k = i-1, j-1, k-1
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return out
}
