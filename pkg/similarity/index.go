package similarity

import (
	"sync"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
)

// Index keeps the corpus in memory and refits the model lazily.
// Closest gives the same answer as VectorizeCorpus over the current corpus followed by Similarity,
// but only refits when documents changed since the previous call.
type Index struct {
	mu       sync.Mutex
	docs     []models.PageText
	position map[string]int // URL hash -> index in docs
	model    *Model
	dirty    bool
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{position: make(map[string]int)}
}

// Load replaces the corpus
func (ix *Index) Load(docs []models.PageText) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = ix.docs[:0]
	ix.position = make(map[string]int, len(docs))
	for _, d := range docs {
		ix.putLocked(d)
	}
	ix.dirty = true
}

// Put adds a document or replaces the content of the document with the same URL hash
func (ix *Index) Put(doc models.PageText) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.putLocked(doc)
	ix.dirty = true
}

func (ix *Index) putLocked(doc models.PageText) {
	if i, ok := ix.position[doc.URLHash]; ok {
		ix.docs[i] = doc
		return
	}
	ix.position[doc.URLHash] = len(ix.docs)
	ix.docs = append(ix.docs, doc)
}

// Len returns the corpus size
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.docs)
}

// Closest scores candidate against the corpus, refitting first if needed
func (ix *Index) Closest(candidate string) (Match, bool, error) {
	ix.mu.Lock()
	if ix.dirty || ix.model == nil {
		model, err := VectorizeCorpus(ix.docs)
		if err != nil {
			ix.mu.Unlock()
			return Match{Index: -1}, false, err
		}
		ix.model = model
		ix.dirty = false
	}
	model := ix.model
	ix.mu.Unlock()
	return Similarity(model, candidate)
}
