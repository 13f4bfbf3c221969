// Package lexical provides an in-memory BM25 ranking index over a corpus
// snapshot of fragments. The index is immutable once built; a new snapshot
// means a new index.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Okapi BM25 parameters.
const (
	defaultK1      = 1.5
	defaultB       = 0.75
	defaultEpsilon = 0.25
)

// Hit is a single ranked result. Score is rank-derived (k - position), not
// the raw BM25 score: fusion downstream is rank-based, and raw BM25 scores
// are not comparable with vector distances anyway.
type Hit struct {
	FragmentID string
	Score      float64
}

// Index ranks fragments against a query using the Okapi BM25 function.
// Fragments whose content tokenizes to nothing are kept positionally but
// carry no lexical signal. When every fragment tokenizes empty the index is
// unavailable and all queries return nil.
type Index struct {
	ids       []string
	docs      [][]string
	docLens   []float64
	avgDocLen float64
	idf       map[string]float64
	available bool

	k1 float64
	b  float64
}

// Build tokenizes the given fragment contents and computes BM25 statistics.
// ids[i] is the fragment id for contents[i]; the two slices must be the same
// length.
func Build(ids []string, contents []string) *Index {
	idx := &Index{
		ids: ids,
		k1:  defaultK1,
		b:   defaultB,
	}

	idx.docs = make([][]string, len(contents))
	idx.docLens = make([]float64, len(contents))

	var totalLen float64
	for i, content := range contents {
		tokens := Tokenize(content)
		idx.docs[i] = tokens
		idx.docLens[i] = float64(len(tokens))
		totalLen += float64(len(tokens))
		if len(tokens) > 0 {
			idx.available = true
		}
	}

	if !idx.available {
		return idx
	}

	idx.avgDocLen = totalLen / float64(len(contents))
	idx.computeIDF()
	return idx
}

// Available reports whether the index holds any lexical signal.
func (idx *Index) Available() bool {
	return idx != nil && idx.available
}

// Query scores all fragments against text and returns the top k hits.
// Hit scores are k - position (0-based), strictly decreasing, so downstream
// fusion sees an unambiguous ranking. Unavailable index or k <= 0 returns nil.
func (idx *Index) Query(text string, k int) []Hit {
	if !idx.Available() || k <= 0 {
		return nil
	}

	queryTokens := Tokenize(text)
	if len(queryTokens) == 0 {
		return nil
	}

	type scored struct {
		pos   int
		score float64
	}
	all := make([]scored, len(idx.docs))
	for i := range idx.docs {
		all[i] = scored{pos: i, score: idx.scoreDoc(queryTokens, i)}
	}

	// Equal BM25 scores keep original corpus order.
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].score > all[b].score
	})

	// Clamping k before scoring means the top hit scores len(all), not the
	// requested k, when the corpus is smaller than k. Downstream fusion is
	// rank-only, so only the relative order matters.
	if k > len(all) {
		k = len(all)
	}

	hits := make([]Hit, k)
	for pos := 0; pos < k; pos++ {
		hits[pos] = Hit{
			FragmentID: idx.ids[all[pos].pos],
			Score:      float64(k - pos),
		}
	}
	return hits
}

// computeIDF follows Okapi BM25: idf = ln((N - df + 0.5) / (df + 0.5)).
// Terms appearing in more than half the corpus get a negative idf; those are
// floored to epsilon * average positive idf so common words still contribute
// a small positive signal.
func (idx *Index) computeIDF() {
	n := float64(len(idx.docs))

	df := make(map[string]int)
	for _, doc := range idx.docs {
		seen := make(map[string]bool, len(doc))
		for _, t := range doc {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	idx.idf = make(map[string]float64, len(df))

	var idfSum float64
	var negative []string
	for term, freq := range df {
		v := math.Log((n - float64(freq) + 0.5) / (float64(freq) + 0.5))
		idx.idf[term] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}

	avgIDF := idfSum / float64(len(df))
	floor := defaultEpsilon * avgIDF
	for _, term := range negative {
		idx.idf[term] = floor
	}
}

func (idx *Index) scoreDoc(queryTokens []string, doc int) float64 {
	dl := idx.docLens[doc]
	if dl == 0 {
		return 0
	}

	tf := make(map[string]float64)
	for _, t := range idx.docs[doc] {
		tf[t]++
	}

	norm := idx.k1 * (1 - idx.b + idx.b*dl/idx.avgDocLen)

	var score float64
	for _, qt := range queryTokens {
		f := tf[qt]
		if f == 0 {
			continue
		}
		score += idx.idf[qt] * (f * (idx.k1 + 1)) / (f + norm)
	}
	return score
}

// Tokenize lowercases and splits on runs of non-word characters.
// Word characters are letters, digits and underscore.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
