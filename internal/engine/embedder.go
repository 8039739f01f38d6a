package engine

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder generates vector embeddings for text. The real generator is an
// external collaborator; implementations wrap whatever provider the
// deployment uses.
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}

// LocalEmbedder is a deterministic on-device embedder so the engine works
// offline and in tests. It hashes word n-grams and character trigrams into
// a fixed-dimension normalized vector. Quality is far below a real model;
// keyword search covers the gap when this is the active embedder.
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder creates a local embedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{dimensions: 256}
}

// Embed generates a local embedding.
func (e *LocalEmbedder) Embed(text string) ([]float32, error) {
	embedding := make([]float32, e.dimensions)

	text = strings.ToLower(text)
	words := strings.Fields(text)
	if len(words) == 0 {
		return embedding, nil
	}

	// Word unigrams and bigrams into the first 3/4 of the space.
	wordDims := e.dimensions * 3 / 4
	for i, w := range words {
		bump(embedding[:wordDims], w, 1.0)
		if i+1 < len(words) {
			bump(embedding[:wordDims], w+" "+words[i+1], 0.5)
		}
	}

	// Character trigrams into the remainder, for typo tolerance.
	charDims := embedding[wordDims:]
	compact := strings.Join(words, " ")
	for i := 0; i+3 <= len(compact); i++ {
		bump(charDims, compact[i:i+3], 0.3)
	}

	normalize(embedding)
	return embedding, nil
}

// Dimensions returns the embedding dimension size.
func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func bump(dims []float32, feature string, weight float32) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	idx := int(h.Sum32()) % len(dims)
	if idx < 0 {
		idx += len(dims)
	}
	dims[idx] += weight
}

func normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
