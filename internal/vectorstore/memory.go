package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/metrics"

	"github.com/philippgille/chromem-go"
)

// MemoryStore keeps collections in an embedded chromem-go database.
// chromem only stores string metadata and cannot list documents, so the store
// keeps its own index with insertion order and the original typed metadata.
type MemoryStore struct {
	db *chromem.DB

	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

type memoryIndex struct {
	id    string
	order []string
	meta  map[string]map[string]any
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		db:      chromem.NewDB(),
		indexes: make(map[string]*memoryIndex),
	}
}

func (s *MemoryStore) Backend() string { return config.BackendMemory }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Heartbeat(context.Context) error { return nil }

// noEmbedding refuses to embed text: records always arrive with vectors.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: memory store needs precomputed embeddings", ErrInvalidRequest)
}

func (s *MemoryStore) collection(name string) (*chromem.Collection, *memoryIndex, error) {
	if err := validateName(name); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	idx, ok := s.indexes[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, idx, nil
}

func (s *MemoryStore) ListCollections(context.Context) ([]Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Collection, 0, len(s.indexes))
	for name, idx := range s.indexes {
		out = append(out, Collection{ID: idx.id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CollectionInfo(_ context.Context, name string) (CollectionInfo, error) {
	c, idx, err := s.collection(name)
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{
		Collection: Collection{ID: idx.id, Name: name},
		Count:      c.Count(),
	}, nil
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; ok {
		return nil
	}
	name = strings.Clone(name)
	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbedding); err != nil {
		return fmt.Errorf("%v: create collection %s: %w", config.ModuleVectorStore, name, err)
	}
	s.indexes[name] = &memoryIndex{
		id:   "mem-" + strconv.Itoa(len(s.indexes)+1),
		meta: make(map[string]map[string]any),
	}
	return nil
}

func (s *MemoryStore) GetRecords(ctx context.Context, name string, opts GetOptions) (out []Record, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStore(s.Backend(), "get", start, err) }()

	c, idx, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := opts.IDs
	if len(ids) == 0 {
		ids = append([]string(nil), idx.order...)
	}
	s.mu.RUnlock()

	out = make([]Record, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			continue // unknown ids are omitted, like Chroma does
		}
		meta := s.typedMetadata(name, id, doc.Metadata)
		if !matchesWhere(meta, opts.Where) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, toRecord(doc.ID, doc.Content, meta, doc.Embedding, opts.IncludeEmbeddings))
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) typedMetadata(collection, id string, fallback map[string]string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := s.indexes[collection]; ok {
		if m, ok := idx.meta[id]; ok {
			return copyMetadata(m)
		}
	}
	out := make(map[string]any, len(fallback))
	for k, v := range fallback {
		out[k] = v
	}
	return out
}

func toRecord(id, content string, meta map[string]any, embedding []float32, withEmbedding bool) Record {
	doc := content
	r := Record{ID: id, Document: &doc, Metadata: meta}
	if withEmbedding {
		r.Embedding = append([]float32(nil), embedding...)
	}
	return r
}

func (s *MemoryStore) AddRecords(ctx context.Context, name string, records []Record) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStore(s.Backend(), "add", start, err) }()

	if err := ValidateRecords(records, true); err != nil {
		return err
	}
	c, _, err := s.collection(name)
	if err != nil {
		return err
	}
	return s.write(ctx, c, name, records)
}

func (s *MemoryStore) write(ctx context.Context, c *chromem.Collection, name string, records []Record) error {
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		content := ""
		if r.Document != nil {
			content = *r.Document
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   content,
			Metadata:  stringMetadata(r.Metadata),
			Embedding: append([]float32(nil), r.Embedding...),
		}
	}
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexes[name]
	for _, r := range records {
		if _, known := idx.meta[r.ID]; !known {
			idx.order = append(idx.order, r.ID)
		}
		idx.meta[r.ID] = copyMetadata(r.Metadata)
	}
	return nil
}

// UpdateRecords replaces existing ids. Fields left empty on a record keep their stored value.
func (s *MemoryStore) UpdateRecords(ctx context.Context, name string, records []Record) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStore(s.Backend(), "update", start, err) }()

	if err := ValidateRecords(records, false); err != nil {
		return err
	}
	c, _, err := s.collection(name)
	if err != nil {
		return err
	}

	merged := make([]Record, 0, len(records))
	for _, r := range records {
		old, err := c.GetByID(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("%w: unknown id %q", ErrInvalidRequest, r.ID)
		}
		next := r
		if next.Document == nil {
			content := old.Content
			next.Document = &content
		}
		if next.Metadata == nil {
			next.Metadata = s.typedMetadata(name, r.ID, old.Metadata)
		}
		if len(next.Embedding) == 0 {
			next.Embedding = old.Embedding
		}
		merged = append(merged, next)
	}

	ids := make([]string, len(merged))
	for i, r := range merged {
		ids[i] = r.ID
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%v: replace records: %w", config.ModuleVectorStore, err)
	}
	return s.write(ctx, c, name, merged)
}

func (s *MemoryStore) DeleteRecords(ctx context.Context, name string, ids []string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStore(s.Backend(), "delete", start, err) }()

	if len(ids) == 0 {
		return nil
	}
	c, _, err := s.collection(name)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%v: delete records: %w", config.ModuleVectorStore, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexes[name]
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
		delete(idx.meta, id)
	}
	kept := idx.order[:0]
	for _, id := range idx.order {
		if _, ok := gone[id]; !ok {
			kept = append(kept, id)
		}
	}
	idx.order = kept
	return nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	if _, _, err := s.collection(name); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("%v: delete collection %s: %w", config.ModuleVectorStore, name, err)
	}
	s.mu.Lock()
	delete(s.indexes, name)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, name string, embedding []float32, opts QueryOptions) (out []Match, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStore(s.Backend(), "query", start, err) }()

	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrInvalidRequest)
	}
	if opts.NResults <= 0 {
		return nil, fmt.Errorf("%w: n_results must be positive", ErrInvalidRequest)
	}
	c, _, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count
	n := opts.NResults
	if count := c.Count(); count == 0 {
		return []Match{}, nil
	} else if n > count {
		n = count
	}

	results, err := c.QueryEmbedding(ctx, embedding, n, stringMetadata(opts.Where), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	out = make([]Match, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		dist := 1 - sim
		out = append(out, Match{
			Record:     toRecord(r.ID, r.Content, s.typedMetadata(name, r.ID, r.Metadata), r.Embedding, opts.IncludeEmbeddings),
			Distance:   &dist,
			Similarity: &sim,
		})
	}
	return out, nil
}

func stringMetadata(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = metadataString(v)
	}
	return out
}

func metadataString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}

func matchesWhere(meta map[string]any, where map[string]any) bool {
	for k, want := range where {
		got, ok := meta[k]
		if !ok || metadataString(got) != metadataString(want) {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
