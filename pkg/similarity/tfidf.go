package similarity

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/james-bowman/nlp"
	"github.com/james-bowman/nlp/measures/pairwise"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
)

// Runs of two or more word characters, lowercased before matching
var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]{2,}`)

// Tokenize splits text into lowercase terms
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// termTokeniser feeds Tokenize into the nlp count vectoriser
type termTokeniser struct{}

func (termTokeniser) ForEachIn(text string, f func(token string)) {
	for _, tok := range Tokenize(text) {
		f(tok)
	}
}

func (termTokeniser) Tokenise(text string) []string { return Tokenize(text) }

type nonZeroDoer interface {
	DoNonZero(fn func(i, j int, v float64))
}

// Model is a TF-IDF model fitted over a reference corpus
type Model struct {
	vectoriser *nlp.CountVectoriser // nil when the corpus has no terms
	idf        []float64
	vectors    []*sparse.Vector // nil entries for documents without terms
	keys       []string         // URL hash of each corpus document
}

// Match is the closest corpus document for a candidate
type Match struct {
	Score   float64 // Cosine similarity in [0,1]
	Index   int     // Position of the document in the corpus
	URLHash string  // Key of the closest document
}

// VectorizeCorpus fits a TF-IDF model over documents.
// IDF is smoothed: ln((1+n)/(1+df)) + 1, so a term shared by every document still counts.
// Document vectors weigh raw term counts.
func VectorizeCorpus(documents []models.PageText) (*Model, error) {
	m := &Model{
		vectors: make([]*sparse.Vector, len(documents)),
		keys:    make([]string, len(documents)),
	}
	texts := make([]string, len(documents))
	hasTerms := false
	for i, doc := range documents {
		texts[i] = doc.Content
		m.keys[i] = doc.URLHash
		hasTerms = hasTerms || len(Tokenize(doc.Content)) > 0
	}
	if !hasTerms {
		return m, nil
	}

	m.vectoriser = nlp.NewCountVectoriser()
	m.vectoriser.Tokeniser = termTokeniser{}
	tdm, err := m.vectoriser.FitTransform(texts...)
	if err != nil {
		return nil, fmt.Errorf("vectorizing corpus: %w", err)
	}

	counts := columns(tdm)
	df := make([]int, len(m.vectoriser.Vocabulary))
	for _, doc := range counts {
		for term := range doc {
			df[term]++
		}
	}
	n := float64(len(documents))
	m.idf = make([]float64, len(df))
	for term, d := range df {
		m.idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}
	for i, doc := range counts {
		m.vectors[i] = m.weigh(doc)
	}
	return m, nil
}

// columns splits a term-document matrix into per-document term counts
func columns(tdm mat.Matrix) []map[int]float64 {
	rows, cols := tdm.Dims()
	out := make([]map[int]float64, cols)
	for j := range out {
		out[j] = make(map[int]float64)
	}
	if nz, ok := tdm.(nonZeroDoer); ok {
		nz.DoNonZero(func(i, j int, v float64) { out[j][i] = v })
		return out
	}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, tdm)
		for i, v := range col {
			if v != 0 {
				out[j][i] = v
			}
		}
	}
	return out
}

// weigh turns term counts into a TF-IDF vector, nil when no term is known
func (m *Model) weigh(counts map[int]float64) *sparse.Vector {
	if len(counts) == 0 {
		return nil
	}
	ind := make([]int, 0, len(counts))
	for term := range counts {
		ind = append(ind, term)
	}
	sort.Ints(ind)
	data := make([]float64, len(ind))
	for k, term := range ind {
		data[k] = counts[term] * m.idf[term]
	}
	return sparse.NewVector(len(m.idf), ind, data)
}

// transform projects text onto the fitted vocabulary; unseen terms are ignored
func (m *Model) transform(text string) (*sparse.Vector, error) {
	if m.vectoriser == nil || len(Tokenize(text)) == 0 {
		return nil, nil
	}
	tdm, err := m.vectoriser.Transform(text)
	if err != nil {
		return nil, fmt.Errorf("vectorizing candidate: %w", err)
	}
	return m.weigh(columns(tdm)[0]), nil
}

// Len returns the number of corpus documents
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Similarity returns the cosine similarity between candidate and the closest corpus document.
// ok is false when the corpus is empty, meaning no signal.
func Similarity(model *Model, candidate string) (Match, bool, error) {
	if model.Len() == 0 {
		return Match{Index: -1}, false, nil
	}
	vec, err := model.transform(candidate)
	if err != nil {
		return Match{Index: -1}, false, err
	}
	best := Match{Index: 0, URLHash: model.keys[0]}
	if vec == nil {
		return best, true, nil
	}
	for i, docVec := range model.vectors {
		if docVec == nil {
			continue
		}
		score := pairwise.CosineSimilarity(vec, docVec)
		if score > best.Score {
			best = Match{Score: score, Index: i, URLHash: model.keys[i]}
		}
	}
	// Rounding can push identical vectors marginally above 1
	best.Score = math.Min(best.Score, 1)
	return best, true, nil
}
