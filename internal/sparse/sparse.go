// Package sparse implements a TF-IDF vectorizer and a row-aligned score
// matrix for lexical retrieval. Row i of a corpus matrix always corresponds
// to chunk i of the in-memory chunk table; appends keep that alignment.
package sparse

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// MaxFeatures caps the vocabulary at the most frequent terms.
const MaxFeatures = 10000

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

func tokenize(doc string) []string {
	return tokenPattern.FindAllString(strings.ToLower(doc), -1)
}

// Entry is one nonzero component of a sparse vector.
type Entry struct {
	Index int
	Value float64
}

// Vector is a sparse L2-normalized term-weight vector, ordered by index.
type Vector []Entry

// Vectorizer holds a fitted vocabulary and per-term inverse document
// frequencies.
type Vectorizer struct {
	Vocabulary map[string]int
	IDF        []float64
}

// Fit builds a vectorizer over docs: terms are lowercase runs of letters,
// digits or underscore of length >= 2, the vocabulary keeps the maxFeatures
// most frequent terms (ties broken alphabetically) and idf uses the smoothed
// form ln((1+n)/(1+df)) + 1.
func Fit(docs []string, maxFeatures int) *Vectorizer {
	if maxFeatures <= 0 {
		maxFeatures = MaxFeatures
	}
	termCount := make(map[string]int)
	docFreq := make(map[string]int)
	for _, doc := range docs {
		tokens := tokenize(doc)
		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			termCount[tok]++
			seen[tok] = true
		}
		for tok := range seen {
			docFreq[tok]++
		}
	}

	terms := make([]string, 0, len(termCount))
	for t := range termCount {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if termCount[terms[i]] != termCount[terms[j]] {
			return termCount[terms[i]] > termCount[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	sort.Strings(terms)

	v := &Vectorizer{
		Vocabulary: make(map[string]int, len(terms)),
		IDF:        make([]float64, len(terms)),
	}
	n := float64(len(docs))
	for i, t := range terms {
		v.Vocabulary[t] = i
		v.IDF[i] = math.Log((1+n)/(1+float64(docFreq[t]))) + 1
	}
	return v
}

// Transform maps a document onto the fitted vocabulary, producing an
// L2-normalized tf-idf vector. Out-of-vocabulary terms are dropped.
func (v *Vectorizer) Transform(doc string) Vector {
	counts := make(map[int]int)
	for _, tok := range tokenize(doc) {
		if idx, ok := v.Vocabulary[tok]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	vec := make(Vector, 0, len(counts))
	var norm float64
	for idx, c := range counts {
		w := float64(c) * v.IDF[idx]
		vec = append(vec, Entry{Index: idx, Value: w})
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i].Value /= norm
	}
	sort.Slice(vec, func(i, j int) bool { return vec[i].Index < vec[j].Index })
	return vec
}

// Matrix is an append-only stack of sparse rows.
type Matrix struct {
	Dim  int
	Rows []Vector
}

// Append adds one row at the bottom of the matrix.
func (m *Matrix) Append(row Vector) {
	m.Rows = append(m.Rows, row)
}

// Len returns the row count.
func (m *Matrix) Len() int { return len(m.Rows) }

// Scores computes the cosine similarity of the query against every row.
// Rows and query are already L2-normalized, so the dot product suffices.
func (m *Matrix) Scores(query Vector) []float64 {
	dense := make([]float64, m.Dim)
	for _, e := range query {
		if e.Index < len(dense) {
			dense[e.Index] = e.Value
		}
	}
	scores := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		var dot float64
		for _, e := range row {
			if e.Index < len(dense) {
				dot += e.Value * dense[e.Index]
			}
		}
		scores[i] = dot
	}
	return scores
}

// Model bundles a fitted vectorizer with the matrix of its corpus rows, the
// unit that is persisted per corpus.
type Model struct {
	Vectorizer *Vectorizer
	Matrix     *Matrix
}

// FitModel fits a vectorizer over docs and transforms every doc into a
// matrix row, in input order.
func FitModel(docs []string, maxFeatures int) *Model {
	v := Fit(docs, maxFeatures)
	m := &Matrix{Dim: len(v.IDF)}
	for _, doc := range docs {
		m.Append(v.Transform(doc))
	}
	return &Model{Vectorizer: v, Matrix: m}
}

// AppendDoc transforms one document with the existing vocabulary and stacks
// it as a new matrix row. The vocabulary and idf weights do not change.
func (mo *Model) AppendDoc(doc string) {
	mo.Matrix.Append(mo.Vectorizer.Transform(doc))
}

// Clone returns a copy sharing the immutable vectorizer but owning its row
// slice, so an append on the clone never mutates the original.
func (mo *Model) Clone() *Model {
	rows := make([]Vector, len(mo.Matrix.Rows))
	copy(rows, mo.Matrix.Rows)
	return &Model{
		Vectorizer: mo.Vectorizer,
		Matrix:     &Matrix{Dim: mo.Matrix.Dim, Rows: rows},
	}
}
