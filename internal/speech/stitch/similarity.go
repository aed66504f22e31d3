package stitch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeField folds case, applies NFKC and strips punctuation at the
// edges of a single whitespace-delimited field. Pure punctuation yields "".
func normalizeField(field string, folder cases.Caser) string {
	return strings.TrimFunc(folder.String(norm.NFKC.String(field)), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// normalize returns the comparable tokens of text.
func normalize(text string) []string {
	folder := cases.Fold()
	var out []string
	for _, f := range strings.Fields(text) {
		if n := normalizeField(f, folder); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// dropTokens removes the first k comparable tokens from text, keeping the
// original spelling of what remains. Pure punctuation fields between
// dropped tokens go with them.
func dropTokens(text string, k int) string {
	folder := cases.Fold()
	fields := strings.Fields(text)
	i := 0
	for ; i < len(fields) && k > 0; i++ {
		if normalizeField(fields[i], folder) != "" {
			k--
		}
	}
	for i < len(fields) && normalizeField(fields[i], folder) == "" {
		i++
	}
	return strings.Join(fields[i:], " ")
}

// Similarity returns 1 - editDistance/maxLen over normalized tokens, in
// [0, 1]. Two empty texts are identical.
func Similarity(a, b string) float64 {
	return tokenSimilarity(normalize(a), normalize(b))
}

func tokenSimilarity(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(a, b))/float64(longest)
}

// bestWindowSimilarity slides a window of len(needle) tokens over hay and
// returns the highest similarity found.
func bestWindowSimilarity(needle, hay []string) float64 {
	if len(needle) == 0 || len(hay) <= len(needle) {
		return tokenSimilarity(needle, hay)
	}
	best := 0.0
	for i := 0; i+len(needle) <= len(hay); i++ {
		if s := tokenSimilarity(needle, hay[i:i+len(needle)]); s > best {
			best = s
		}
	}
	return best
}

// editDistance is the Levenshtein distance between token sequences.
func editDistance(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// repeatedPrefix returns the largest k such that the first k tokens of head
// equal the last k tokens of tail.
func repeatedPrefix(tail, head []string) int {
	for k := min(len(tail), len(head)); k > 0; k-- {
		match := true
		for i := 0; i < k; i++ {
			if tail[len(tail)-k+i] != head[i] {
				match = false
				break
			}
		}
		if match {
			return k
		}
	}
	return 0
}
