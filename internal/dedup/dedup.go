// Package dedup classifies freshly parsed entries against the notes already
// stored (and against entries accepted earlier in the same batch).
//
// An Index is built once per batch. Lookups go through three structures:
// the exact-key map (book, location, type, content hash), the location
// bucket map (book, location, type) whose members are compared by text
// similarity, and a content-hash set used when an entry has no location.
// The engine itself performs no writes.
package dedup

import (
	"fmt"
)

type Kind string

const (
	KindUnique        Kind = "unique"
	KindExactMatch    Kind = "exact_match"
	KindContentUpdate Kind = "content_update"
	KindManualReview  Kind = "manual_review"
	KindError         Kind = "error"
)

type Config struct {
	UpdateThreshold float64
	MinThreshold    float64
	AutoUpdate      bool
}

func DefaultConfig() Config {
	return Config{
		UpdateThreshold: 0.9,
		MinThreshold:    0.8,
		AutoUpdate:      true,
	}
}

// Decision is the outcome of classifying one entry. A match is either a
// stored note (ExistingID != 0) or an entry accepted earlier in the same
// batch (BatchPos >= 0).
type Decision struct {
	Kind       Kind    `json:"kind"`
	ExistingID uint    `json:"existing_id,omitempty"`
	BatchPos   int     `json:"batch_pos"`
	Similarity float64 `json:"similarity"`
	Hash       string  `json:"hash,omitempty"`
	// Occupied is set on a unique decision whose location slot already holds
	// a note of the same type with dissimilar text.
	Occupied bool  `json:"occupied,omitempty"`
	Err      error `json:"-"`
}

// InBatch reports whether the decision points at an earlier in-batch entry.
func (d Decision) InBatch() bool {
	return d.BatchPos >= 0
}

func (d Decision) String() string {
	switch {
	case d.Err != nil:
		return fmt.Sprintf("%s: %v", d.Kind, d.Err)
	case d.ExistingID != 0:
		return fmt.Sprintf("%s (note %d, similarity %.2f)", d.Kind, d.ExistingID, d.Similarity)
	case d.BatchPos >= 0:
		return fmt.Sprintf("%s (batch entry %d, similarity %.2f)", d.Kind, d.BatchPos, d.Similarity)
	}
	return string(d.Kind)
}

// BookRef is the book key of a stored book.
func BookRef(id uint) string {
	return fmt.Sprintf("id:%d", id)
}

// NewBookRef is the book key of a book that only exists in the current batch.
func NewBookRef(key string) string {
	return "new:" + key
}
