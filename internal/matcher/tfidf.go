package matcher

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/finscenario/scenariomap/internal/scenario"
)

// MaxTextChars bounds the text taken from any one document or query.
const MaxTextChars = 5000

var stopWords = func() map[string]bool {
	words := strings.Fields(`
		a about above after again against all also am an and any are as at be
		because been before being below between both but by can could did do
		does doing down during each few for from further had has have having he
		her here hers herself him himself his how i if in into is it its itself
		just me more most my myself no nor not now of off on once only or other
		our ours ourselves out over own same she should so some such than that
		the their theirs them themselves then there these they this those
		through to too under until up very was we were what when where which
		while who whom why will with would you your yours yourself yourselves
		into onto per via upon within without`)
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()

// tokenize lower-cases text, splits on anything that is not a letter or
// digit, drops single-character tokens and stop words, and appends bigrams of
// the remaining tokens.
func tokenize(text string) []string {
	if len(text) > MaxTextChars {
		text = text[:MaxTextChars]
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	unigrams := words[:0]
	for _, w := range words {
		if len([]rune(w)) < 2 || stopWords[w] {
			continue
		}
		unigrams = append(unigrams, w)
	}
	terms := make([]string, 0, 2*len(unigrams))
	terms = append(terms, unigrams...)
	for i := 0; i+1 < len(unigrams); i++ {
		terms = append(terms, unigrams[i]+" "+unigrams[i+1])
	}
	return terms
}

func caseText(c scenario.HistoricalCase) string {
	return c.Name + " " + c.IssueDescription + " " + c.Impact
}

// vector is a sparse L2-normalised term weight vector with its terms kept in
// sorted order so dot products are summed deterministically.
type vector struct {
	terms   []string
	weights map[string]float64
}

type index struct {
	idf  map[string]float64
	docs []vector
}

// buildIndex fits smoothed idf weights on docs and vectorises each one.
func buildIndex(docs []string) *index {
	n := float64(len(docs))
	tokenized := make([][]string, len(docs))
	df := make(map[string]int)
	for i, d := range docs {
		tokenized[i] = tokenize(d)
		seen := make(map[string]bool)
		for _, t := range tokenized[i] {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	idx := &index{idf: make(map[string]float64, len(df)), docs: make([]vector, len(docs))}
	for t, f := range df {
		idx.idf[t] = math.Log((1+n)/(1+float64(f))) + 1
	}
	for i, toks := range tokenized {
		idx.docs[i] = idx.vectorize(toks)
	}
	return idx
}

// vectorize weights tokens with sublinear tf times idf. Terms outside the
// fitted vocabulary are ignored.
func (idx *index) vectorize(tokens []string) vector {
	counts := make(map[string]int)
	for _, t := range tokens {
		if _, ok := idx.idf[t]; ok {
			counts[t]++
		}
	}
	v := vector{terms: make([]string, 0, len(counts)), weights: make(map[string]float64, len(counts))}
	for t := range counts {
		v.terms = append(v.terms, t)
	}
	sort.Strings(v.terms)

	var norm float64
	for _, t := range v.terms {
		w := (1 + math.Log(float64(counts[t]))) * idx.idf[t]
		v.weights[t] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for _, t := range v.terms {
			v.weights[t] /= norm
		}
	}
	return v
}

// cosine of two normalised vectors, iterating the shorter one in term order.
func cosine(a, b vector) float64 {
	if len(a.terms) > len(b.terms) {
		a, b = b, a
	}
	var sum float64
	for _, t := range a.terms {
		if w, ok := b.weights[t]; ok {
			sum += a.weights[t] * w
		}
	}
	return sum
}
