// Package vectorstore talks to the vector database holding the document
// collections. Three backends share one interface: a Chroma server over its
// REST API, Milvus, and an embedded chromem-go database.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCollectionNotFound is returned when the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("vector store unavailable")
	// ErrInvalidRequest is returned when the backend rejects the request shape.
	ErrInvalidRequest = errors.New("invalid vector store request")
)

// Record is one stored document.
type Record struct {
	ID        string         `json:"id"`
	Document  *string        `json:"document"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Match is a Record returned by a similarity query.
// Distance is what the backend reported; Similarity is higher-is-better when known.
type Match struct {
	Record
	Distance   *float64 `json:"distance,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
}

type Collection struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type CollectionInfo struct {
	Collection
	Count int `json:"count"`
}

// GetOptions narrows GetRecords. Zero value returns every record without embeddings.
type GetOptions struct {
	IDs               []string
	Where             map[string]any
	Limit             int
	Offset            int
	IncludeEmbeddings bool
}

// QueryOptions controls a similarity query.
type QueryOptions struct {
	NResults          int
	Where             map[string]any
	IncludeEmbeddings bool
}

// Store is implemented by every backend.
type Store interface {
	Backend() string
	Heartbeat(ctx context.Context) error
	ListCollections(ctx context.Context) ([]Collection, error)
	CollectionInfo(ctx context.Context, name string) (CollectionInfo, error)
	// EnsureCollection creates the collection when missing.
	EnsureCollection(ctx context.Context, name string) error
	GetRecords(ctx context.Context, name string, opts GetOptions) ([]Record, error)
	// AddRecords stores records; each must carry an embedding.
	AddRecords(ctx context.Context, name string, records []Record) error
	// UpdateRecords replaces documents, metadata and embeddings of existing ids.
	UpdateRecords(ctx context.Context, name string, records []Record) error
	DeleteRecords(ctx context.Context, name string, ids []string) error
	DeleteCollection(ctx context.Context, name string) error
	Query(ctx context.Context, name string, embedding []float32, opts QueryOptions) ([]Match, error)
	Close() error
}

// Distance functions a collection can be configured with.
const (
	SpaceCosine = "cosine"
	SpaceL2     = "l2"
	SpaceIP     = "ip"
)

// DistanceToSimilarity converts a backend distance into a higher-is-better score.
// Cosine and inner product distances are 1-sim; squared L2 over unit vectors is 2-2*sim.
func DistanceToSimilarity(space string, distance float64) float64 {
	switch space {
	case SpaceL2:
		return 1 - distance/2
	default:
		return 1 - distance
	}
}

// ValidateRecords checks ids are present and unique and, when needEmbedding is set,
// that every record has an embedding of the same size.
func ValidateRecords(records []Record, needEmbedding bool) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: no records", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(records))
	dim := -1
	for i, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidRequest, i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidRequest, r.ID)
		}
		seen[r.ID] = struct{}{}
		if !needEmbedding {
			continue
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: record %q has no embedding", ErrInvalidRequest, r.ID)
		}
		if dim == -1 {
			dim = len(r.Embedding)
		} else if len(r.Embedding) != dim {
			return fmt.Errorf("%w: record %q embedding has %d dimensions, want %d", ErrInvalidRequest, r.ID, len(r.Embedding), dim)
		}
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty collection name", ErrInvalidRequest)
	}
	return nil
}
