// Package similarity fingerprints content for exact-duplicate detection and scores
// near-duplicates with TF-IDF cosine similarity against the stored corpus.
package similarity
