package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/metrics"
	"chroma-rag/pkg/logger"

	"github.com/gofiber/fiber/v3/client"
)

// ChromaStore talks to a Chroma server through its v2 REST API.
type ChromaStore struct {
	http     *client.Client
	tenant   string
	database string
	space    string

	mu   sync.RWMutex
	refs map[string]chromaRef // collection name -> ref
}

// chromaRef is a resolved collection with the distance space it was built with.
type chromaRef struct {
	id    string
	space string
}

var _ Store = (*ChromaStore)(nil)

func NewChromaStore(cfg config.ChromaConfig) *ChromaStore {
	cli := client.New().
		SetBaseURL(cfg.BaseURL()).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	if cfg.Token != "" {
		cli.SetHeader("X-Chroma-Token", cfg.Token)
	}
	space := cfg.Space
	if space == "" {
		space = SpaceCosine
	}
	return &ChromaStore{
		http:     cli,
		tenant:   cfg.Tenant,
		database: cfg.Database,
		space:    space,
		refs:     make(map[string]chromaRef),
	}
}

func (s *ChromaStore) Backend() string { return config.BackendChroma }

func (s *ChromaStore) Close() error { return nil }

type chromaCollection struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Metadata      map[string]any `json:"metadata"`
	Configuration struct {
		HNSW *struct {
			Space string `json:"space"`
		} `json:"hnsw"`
	} `json:"configuration_json"`
}

// spaceOr reports the distance space the collection was created with,
// from its hnsw:space metadata or its hnsw configuration.
func (c chromaCollection) spaceOr(fallback string) string {
	if v, ok := c.Metadata["hnsw:space"].(string); ok && v != "" {
		return v
	}
	if c.Configuration.HNSW != nil && c.Configuration.HNSW.Space != "" {
		return c.Configuration.HNSW.Space
	}
	return fallback
}

type chromaGetRequest struct {
	IDs     []string       `json:"ids,omitempty"`
	Where   map[string]any `json:"where,omitempty"`
	Limit   int            `json:"limit,omitempty"`
	Offset  int            `json:"offset,omitempty"`
	Include []string       `json:"include"`
}

type chromaGetResponse struct {
	IDs        []string         `json:"ids"`
	Documents  []*string        `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
	Embeddings [][]float32      `json:"embeddings"`
}

type chromaWriteRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings,omitempty"`
	Documents  []*string        `json:"documents,omitempty"`
	Metadatas  []map[string]any `json:"metadatas,omitempty"`
}

type chromaDeleteRequest struct {
	IDs []string `json:"ids"`
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include"`
}

type chromaQueryResponse struct {
	IDs        [][]string         `json:"ids"`
	Documents  [][]*string        `json:"documents"`
	Metadatas  [][]map[string]any `json:"metadatas"`
	Distances  [][]*float64       `json:"distances"`
	Embeddings [][][]float32      `json:"embeddings"`
}

type chromaError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *ChromaStore) collectionsPath() string {
	return fmt.Sprintf("/api/v2/tenants/%s/databases/%s/collections",
		url.PathEscape(s.tenant), url.PathEscape(s.database))
}

// do sends one request and decodes a 2xx body into out.
func (s *ChromaStore) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStore(s.Backend(), op, start, err) }()

	req := s.http.R().SetContext(ctx)
	if body != nil {
		req.SetJSON(body)
	}

	var resp *client.Response
	switch method {
	case http.MethodGet:
		resp, err = req.Get(path)
	case http.MethodPost:
		resp, err = req.Post(path)
	case http.MethodDelete:
		resp, err = req.Delete(path)
	default:
		return fmt.Errorf("%v: unsupported method %s", config.ModuleChroma, method)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Close()

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return statusError(code, resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := resp.JSON(out); err != nil {
		return fmt.Errorf("%v: decode %s response: %w", config.ModuleChroma, op, err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var ce chromaError
	if err := json.Unmarshal(body, &ce); err == nil {
		if ce.Message != "" {
			msg = ce.Message
		} else if ce.Error != "" {
			msg = ce.Error
		}
	}
	lower := strings.ToLower(msg)
	switch {
	case code == http.StatusNotFound, strings.Contains(lower, "does not exist"):
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, msg)
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	case code >= 500:
		return fmt.Errorf("%w: chroma returned %d: %s", ErrUnavailable, code, msg)
	default:
		return fmt.Errorf("%v: chroma returned %d: %s", config.ModuleChroma, code, msg)
	}
}

func (s *ChromaStore) Heartbeat(ctx context.Context) error {
	return s.do(ctx, "heartbeat", http.MethodGet, "/api/v2/heartbeat", nil, nil)
}

func (s *ChromaStore) ListCollections(ctx context.Context) ([]Collection, error) {
	var raw []chromaCollection
	if err := s.do(ctx, "list_collections", http.MethodGet, s.collectionsPath(), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Collection, 0, len(raw))
	for _, c := range raw {
		out = append(out, Collection{ID: c.ID, Name: c.Name, Metadata: c.Metadata})
	}
	return out, nil
}

func (s *ChromaStore) getCollection(ctx context.Context, name string) (chromaCollection, error) {
	var c chromaCollection
	err := s.do(ctx, "get_collection", http.MethodGet, s.collectionsPath()+"/"+url.PathEscape(name), nil, &c)
	if err != nil {
		return c, err
	}
	s.remember(name, c)
	return c, nil
}

func (s *ChromaStore) remember(name string, c chromaCollection) {
	ref := c.spaceRef(s.space)
	s.mu.Lock()
	s.refs[strings.Clone(name)] = ref
	s.mu.Unlock()
}

// collectionRef resolves the id and space of name, caching them.
func (s *ChromaStore) collectionRef(ctx context.Context, name string) (chromaRef, error) {
	if err := validateName(name); err != nil {
		return chromaRef{}, err
	}
	s.mu.RLock()
	ref, ok := s.refs[name]
	s.mu.RUnlock()
	if ok {
		return ref, nil
	}
	c, err := s.getCollection(ctx, name)
	if err != nil {
		return chromaRef{}, err
	}
	return c.spaceRef(s.space), nil
}

func (c chromaCollection) spaceRef(fallback string) chromaRef {
	return chromaRef{id: c.ID, space: c.spaceOr(fallback)}
}

func (s *ChromaStore) forget(name string) {
	s.mu.Lock()
	delete(s.refs, name)
	s.mu.Unlock()
}

// byID runs fn against the cached collection id and retries once with a fresh
// id when the cached one points at a dropped collection.
func (s *ChromaStore) byID(ctx context.Context, name string, fn func(ref chromaRef) error) error {
	ref, err := s.collectionRef(ctx, name)
	if err != nil {
		return err
	}
	err = fn(ref)
	if err == nil || !errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	s.forget(name)
	ref, err = s.collectionRef(ctx, name)
	if err != nil {
		return err
	}
	return fn(ref)
}

func (s *ChromaStore) CollectionInfo(ctx context.Context, name string) (CollectionInfo, error) {
	if err := validateName(name); err != nil {
		return CollectionInfo{}, err
	}
	c, err := s.getCollection(ctx, name)
	if err != nil {
		return CollectionInfo{}, err
	}
	var count int
	if err := s.do(ctx, "count", http.MethodGet, s.collectionsPath()+"/"+c.ID+"/count", nil, &count); err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{
		Collection: Collection{ID: c.ID, Name: c.Name, Metadata: c.Metadata},
		Count:      count,
	}, nil
}

func (s *ChromaStore) EnsureCollection(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	body := map[string]any{
		"name":          name,
		"metadata":      map[string]any{"hnsw:space": s.space},
		"get_or_create": true,
	}
	var c chromaCollection
	if err := s.do(ctx, "create_collection", http.MethodPost, s.collectionsPath(), body, &c); err != nil {
		return err
	}
	s.remember(name, c)
	logger.WithFields(map[string]interface{}{
		"collection": name,
		"id":         c.ID,
	}).Debug("chroma: collection ready")
	return nil
}

func (s *ChromaStore) GetRecords(ctx context.Context, name string, opts GetOptions) ([]Record, error) {
	include := []string{"documents", "metadatas"}
	if opts.IncludeEmbeddings {
		include = append(include, "embeddings")
	}
	body := chromaGetRequest{
		IDs:     opts.IDs,
		Where:   chromaWhere(opts.Where),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		Include: include,
	}
	var raw chromaGetResponse
	err := s.byID(ctx, name, func(ref chromaRef) error {
		return s.do(ctx, "get", http.MethodPost, s.collectionsPath()+"/"+ref.id+"/get", body, &raw)
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, len(raw.IDs))
	for i, id := range raw.IDs {
		r := Record{ID: id}
		if i < len(raw.Documents) {
			r.Document = raw.Documents[i]
		}
		if i < len(raw.Metadatas) {
			r.Metadata = raw.Metadatas[i]
		}
		if i < len(raw.Embeddings) {
			r.Embedding = raw.Embeddings[i]
		}
		out[i] = r
	}
	return out, nil
}

func writeRequest(records []Record) chromaWriteRequest {
	req := chromaWriteRequest{
		IDs:        make([]string, len(records)),
		Embeddings: make([][]float32, 0, len(records)),
		Documents:  make([]*string, len(records)),
		Metadatas:  make([]map[string]any, len(records)),
	}
	for i, r := range records {
		req.IDs[i] = r.ID
		req.Documents[i] = r.Document
		req.Metadatas[i] = nonEmptyMetadata(r.Metadata)
		if len(r.Embedding) > 0 {
			req.Embeddings = append(req.Embeddings, r.Embedding)
		}
	}
	if len(req.Embeddings) != len(records) {
		req.Embeddings = nil
	}
	// omitted columns are left untouched by update
	if allNil(req.Documents) {
		req.Documents = nil
	}
	if allEmpty(req.Metadatas) {
		req.Metadatas = nil
	}
	return req
}

func allNil(docs []*string) bool {
	for _, d := range docs {
		if d != nil {
			return false
		}
	}
	return true
}

func allEmpty(metas []map[string]any) bool {
	for _, m := range metas {
		if m != nil {
			return false
		}
	}
	return true
}

// nonEmptyMetadata returns nil for empty metadata; Chroma rejects {}.
func nonEmptyMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func (s *ChromaStore) AddRecords(ctx context.Context, name string, records []Record) error {
	if err := ValidateRecords(records, true); err != nil {
		return err
	}
	body := writeRequest(records)
	return s.byID(ctx, name, func(ref chromaRef) error {
		return s.do(ctx, "add", http.MethodPost, s.collectionsPath()+"/"+ref.id+"/add", body, nil)
	})
}

func (s *ChromaStore) UpdateRecords(ctx context.Context, name string, records []Record) error {
	if err := ValidateRecords(records, false); err != nil {
		return err
	}
	body := writeRequest(records)
	return s.byID(ctx, name, func(ref chromaRef) error {
		return s.do(ctx, "update", http.MethodPost, s.collectionsPath()+"/"+ref.id+"/update", body, nil)
	})
}

func (s *ChromaStore) DeleteRecords(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := chromaDeleteRequest{IDs: ids}
	return s.byID(ctx, name, func(ref chromaRef) error {
		return s.do(ctx, "delete", http.MethodPost, s.collectionsPath()+"/"+ref.id+"/delete", body, nil)
	})
}

func (s *ChromaStore) DeleteCollection(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	defer s.forget(name)
	return s.do(ctx, "delete_collection", http.MethodDelete, s.collectionsPath()+"/"+url.PathEscape(name), nil, nil)
}

func (s *ChromaStore) Query(ctx context.Context, name string, embedding []float32, opts QueryOptions) ([]Match, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrInvalidRequest)
	}
	if opts.NResults <= 0 {
		return nil, fmt.Errorf("%w: n_results must be positive", ErrInvalidRequest)
	}
	include := []string{"documents", "metadatas", "distances"}
	if opts.IncludeEmbeddings {
		include = append(include, "embeddings")
	}
	body := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        opts.NResults,
		Where:           chromaWhere(opts.Where),
		Include:         include,
	}
	var (
		raw   chromaQueryResponse
		space string
	)
	err := s.byID(ctx, name, func(ref chromaRef) error {
		space = ref.space
		return s.do(ctx, "query", http.MethodPost, s.collectionsPath()+"/"+ref.id+"/query", body, &raw)
	})
	if err != nil {
		return nil, err
	}
	if len(raw.IDs) == 0 {
		return []Match{}, nil
	}

	out := make([]Match, len(raw.IDs[0]))
	for i, id := range raw.IDs[0] {
		m := Match{Record: Record{ID: id}}
		if len(raw.Documents) > 0 && i < len(raw.Documents[0]) {
			m.Document = raw.Documents[0][i]
		}
		if len(raw.Metadatas) > 0 && i < len(raw.Metadatas[0]) {
			m.Metadata = raw.Metadatas[0][i]
		}
		if len(raw.Embeddings) > 0 && i < len(raw.Embeddings[0]) {
			m.Embedding = raw.Embeddings[0][i]
		}
		if len(raw.Distances) > 0 && i < len(raw.Distances[0]) && raw.Distances[0][i] != nil {
			d := *raw.Distances[0][i]
			sim := DistanceToSimilarity(space, d)
			m.Distance = &d
			m.Similarity = &sim
		}
		out[i] = m
	}
	return out, nil
}

// chromaWhere turns an equality filter into Chroma's where syntax,
// joining several keys with $and in a stable order.
func chromaWhere(filters map[string]any) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	if len(filters) == 1 {
		for k, v := range filters {
			return map[string]any{k: v}
		}
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	clauses := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, map[string]any{k: filters[k]})
	}
	return map[string]any{"$and": clauses}
}
