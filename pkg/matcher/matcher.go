// Package matcher implements exhaustive nearest-neighbour search over a reference
// set of labelled embeddings using cosine similarity.
package matcher

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrMisaligned is returned when the vector and label lists differ in length.
	ErrMisaligned = errors.New("reference vectors and labels are not index-aligned")
	// ErrEmptyReferenceSet is returned when there is nothing to match against.
	ErrEmptyReferenceSet = errors.New("reference set is empty")
	// ErrDimensionMismatch is returned when vectors of different lengths are compared.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrNoValidSimilarity is returned when no reference yields a numeric similarity,
	// e.g. every reference (or the query) is a zero vector.
	ErrNoValidSimilarity = errors.New("no reference produced a valid similarity")
)

// ReferenceSet is an immutable, index-aligned list of reference embeddings and labels.
// It is safe for concurrent reads.
type ReferenceSet struct {
	vectors [][]float64
	labels  []string
	dim     int
}

// NewReferenceSet validates alignment and dimensions and takes ownership of the slices.
func NewReferenceSet(vectors [][]float64, labels []string) (*ReferenceSet, error) {
	if len(vectors) != len(labels) {
		return nil, fmt.Errorf("%w: %d vectors, %d labels", ErrMisaligned, len(vectors), len(labels))
	}
	if len(vectors) == 0 {
		return nil, ErrEmptyReferenceSet
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: reference 0 is empty", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: reference %d has %d values, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return &ReferenceSet{vectors: vectors, labels: labels, dim: dim}, nil
}

const (
	EnvEmbeddingsFile = "EMBEDDINGS_FILE"
	EnvLabelsFile     = "LABELS_FILE"
)

// ReferenceFilesFromEnv returns the embeddings and labels file paths, defaulting to
// futebol_embeddings.txt and futebol_labels.txt.
func ReferenceFilesFromEnv() (embeddingsPath, labelsPath string) {
	embeddingsPath, labelsPath = "futebol_embeddings.txt", "futebol_labels.txt"
	if v := os.Getenv(EnvEmbeddingsFile); v != "" {
		embeddingsPath = v
	}
	if v := os.Getenv(EnvLabelsFile); v != "" {
		labelsPath = v
	}
	return embeddingsPath, labelsPath
}

// LoadReferenceSet reads an embeddings file (one whitespace-separated vector per line)
// and a labels file (one label per line) and pairs them by line number.
func LoadReferenceSet(embeddingsPath, labelsPath string) (*ReferenceSet, error) {
	ef, err := os.Open(embeddingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open embeddings file: %w", err)
	}
	defer ef.Close()
	vectors, err := ParseEmbeddings(ef)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", embeddingsPath, err)
	}

	lf, err := os.Open(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer lf.Close()
	labels, err := ParseLabels(lf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", labelsPath, err)
	}

	return NewReferenceSet(vectors, labels)
}

// ParseEmbeddings parses one vector per line. Trailing blank lines are ignored; a
// blank line followed by more data is an error since it would shift the alignment.
func ParseEmbeddings(r io.Reader) ([][]float64, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float64, 0, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		v := make([]float64, len(fields))
		for j, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid value %q: %w", i+1, f, err)
			}
			v[j] = x
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// ParseLabels reads one trimmed label per line, with the same blank line rules as
// ParseEmbeddings.
func ParseLabels(r io.Reader) ([]string, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(lines))
	for i, line := range lines {
		labels[i] = strings.TrimSpace(line)
	}
	return labels, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	blankAt := -1
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if blankAt < 0 {
				blankAt = n
			}
			continue
		}
		if blankAt >= 0 {
			return nil, fmt.Errorf("blank line %d inside data", blankAt)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Len is the number of references.
func (s *ReferenceSet) Len() int { return len(s.vectors) }

// Dim is the embedding dimension.
func (s *ReferenceSet) Dim() int { return s.dim }

// Label returns the label at index i.
func (s *ReferenceSet) Label(i int) string { return s.labels[i] }

// Match is the outcome of a nearest-neighbour search.
type Match struct {
	Label      string
	Similarity float64
	Index      int
}

// Nearest scans every reference and returns the one with the highest cosine
// similarity to query. Ties keep the lowest index. References whose similarity is
// NaN (zero-norm vectors) are skipped.
func (s *ReferenceSet) Nearest(query []float64) (Match, error) {
	if len(query) != s.dim {
		return Match{}, fmt.Errorf("%w: query has %d values, references have %d", ErrDimensionMismatch, len(query), s.dim)
	}
	best := Match{Index: -1, Similarity: math.Inf(-1)}
	for i, ref := range s.vectors {
		// NaN never compares greater, so undefined similarities cannot win.
		if sim := CosineSimilarity(query, ref); sim > best.Similarity {
			best = Match{Label: s.labels[i], Similarity: sim, Index: i}
		}
	}
	if best.Index < 0 {
		return Match{}, ErrNoValidSimilarity
	}
	return best, nil
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|), clamped to [-1,1]. The result is
// NaN when either vector has zero norm or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.NaN()
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	// A single square root keeps sim(v,v) at exactly 1.
	sim := dot / math.Sqrt(normA*normB)
	switch {
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}
