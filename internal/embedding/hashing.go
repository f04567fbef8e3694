package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashingProvider is a deterministic, offline embedder. Each token is
// hashed into a bucket and the vector is L2-normalized, so identical
// texts embed identically and texts sharing vocabulary score high under
// cosine similarity. It backs tests and the evaluation harness, where
// network calls are unacceptable.
type HashingProvider struct {
	dimensions int
}

// NewHashingProvider creates a hashing embedder of the given width
func NewHashingProvider(dimensions int) *HashingProvider {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &HashingProvider{dimensions: dimensions}
}

func (p *HashingProvider) Model() string   { return "hashing-bow" }
func (p *HashingProvider) Dimensions() int { return p.dimensions }

// Embed produces the bag-of-words vector for a text
func (p *HashingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

// EmbedBatch produces one vector per text
func (p *HashingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = p.embed(t)
	}
	return vectors, nil
}

func (p *HashingProvider) embed(text string) []float32 {
	vector := make([]float32, p.dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		vector[0] = 1
		return vector
	}

	for _, token := range tokens {
		h := fnv.New32a()
		h.Write([]byte(token))
		vector[h.Sum32()%uint32(p.dimensions)]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}
	return vector
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
