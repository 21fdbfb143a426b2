package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"chroma-rag/config"
	"chroma-rag/internal/metrics"
	"chroma-rag/pkg/logger"

	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	milvusentity "github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusFieldID        = "id"
	milvusFieldDocument  = "document"
	milvusFieldMetadata  = "metadata"
	milvusFieldEmbedding = "embedding"

	milvusMaxIDLength       = 512
	milvusMaxDocumentLength = 65535
)

// MilvusStore keeps each collection as a Milvus collection with a varchar
// primary key, the document text, JSON metadata and an HNSW indexed vector.
type MilvusStore struct {
	cli   milvusclient.Client
	dim   int
	index config.IndexHNSWConfig

	mu     sync.Mutex
	loaded map[string]bool
}

var _ Store = (*MilvusStore)(nil)

func NewMilvusStore(cli milvusclient.Client, cfg config.MilvusConfig) *MilvusStore {
	return &MilvusStore{
		cli:    cli,
		dim:    cfg.Dim,
		index:  cfg.IndexHNSWConfig,
		loaded: make(map[string]bool),
	}
}

func (s *MilvusStore) Backend() string { return config.BackendMilvus }

func (s *MilvusStore) Close() error { return s.cli.Close() }

func (s *MilvusStore) observe(op string, start time.Time, err error) {
	metrics.ObserveStore(s.Backend(), op, start, err)
}

func (s *MilvusStore) Heartbeat(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.observe("heartbeat", start, err) }()
	if _, err = s.cli.ListCollections(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *MilvusStore) ListCollections(ctx context.Context) ([]Collection, error) {
	cols, err := s.cli.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([]Collection, 0, len(cols))
	for _, c := range cols {
		out = append(out, Collection{ID: strconv.FormatInt(c.ID, 10), Name: c.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MilvusStore) requireCollection(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}

func (s *MilvusStore) CollectionInfo(ctx context.Context, name string) (CollectionInfo, error) {
	if err := s.requireCollection(ctx, name); err != nil {
		return CollectionInfo{}, err
	}
	desc, err := s.cli.DescribeCollection(ctx, name)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("%v: describe %s: %w", config.ModuleMilvus, name, err)
	}
	stats, err := s.cli.GetCollectionStatistics(ctx, name)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("%v: statistics %s: %w", config.ModuleMilvus, name, err)
	}
	count, _ := strconv.Atoi(stats["row_count"])
	return CollectionInfo{
		Collection: Collection{
			ID:       strconv.FormatInt(desc.ID, 10),
			Name:     name,
			Metadata: map[string]any{"metric_type": s.index.MetricType, "dim": s.dim},
		},
		Count: count,
	}, nil
}

func (s *MilvusStore) EnsureCollection(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.observe("create_collection", start, err) }()
	if err := validateName(name); err != nil {
		return err
	}
	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	schema := milvusentity.NewSchema().WithName(name).WithDescription("documents")
	schema.WithField(milvusentity.NewField().WithName(milvusFieldID).WithDataType(milvusentity.FieldTypeVarChar).
		WithIsPrimaryKey(true).WithMaxLength(milvusMaxIDLength))
	schema.WithField(milvusentity.NewField().WithName(milvusFieldDocument).WithDataType(milvusentity.FieldTypeVarChar).
		WithMaxLength(milvusMaxDocumentLength))
	schema.WithField(milvusentity.NewField().WithName(milvusFieldMetadata).WithDataType(milvusentity.FieldTypeJSON))
	schema.WithField(milvusentity.NewField().WithName(milvusFieldEmbedding).WithDataType(milvusentity.FieldTypeFloatVector).
		WithDim(int64(s.dim)))

	if err := s.cli.CreateCollection(ctx, schema, 2); err != nil {
		return fmt.Errorf("%v: create %s: %w", config.ModuleMilvus, name, err)
	}

	idx, err := milvusentity.NewIndexHNSW(milvusentity.MetricType(s.index.MetricType), s.index.M, s.index.EfConstruction)
	if err != nil {
		return fmt.Errorf("%v: hnsw index params: %w", config.ModuleMilvus, err)
	}
	if err := s.cli.CreateIndex(ctx, name, milvusFieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("%v: create index on %s: %w", config.ModuleMilvus, name, err)
	}
	logger.WithFields(map[string]interface{}{
		"collection": name,
		"dim":        s.dim,
		"metric":     s.index.MetricType,
	}).Info("milvus: collection created")
	return nil
}

func (s *MilvusStore) ensureLoaded(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[name] {
		return nil
	}
	if err := s.cli.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("%v: load %s: %w", config.ModuleMilvus, name, err)
	}
	s.loaded[name] = true
	return nil
}

func (s *MilvusStore) outputFields(withEmbedding bool) []string {
	fields := []string{milvusFieldID, milvusFieldDocument, milvusFieldMetadata}
	if withEmbedding {
		fields = append(fields, milvusFieldEmbedding)
	}
	return fields
}

func (s *MilvusStore) GetRecords(ctx context.Context, name string, opts GetOptions) (out []Record, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()
	if err := s.requireCollection(ctx, name); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx, name); err != nil {
		return nil, err
	}

	var rs milvusclient.ResultSet
	fields := s.outputFields(opts.IncludeEmbeddings)
	if len(opts.IDs) > 0 && len(opts.Where) == 0 {
		rs, err = s.cli.QueryByPks(ctx, name, nil, milvusentity.NewColumnVarChar(milvusFieldID, opts.IDs), fields)
	} else {
		expr := milvusExpr(opts.IDs, opts.Where)
		if expr == "" {
			expr = milvusFieldID + ` != ""`
		}
		var qopts []milvusclient.SearchQueryOptionFunc
		if opts.Limit > 0 {
			qopts = append(qopts, milvusclient.WithLimit(int64(opts.Limit)), milvusclient.WithOffset(int64(opts.Offset)))
		}
		rs, err = s.cli.Query(ctx, name, nil, expr, fields, qopts...)
	}
	if err != nil {
		return nil, fmt.Errorf("%v: query %s: %w", config.ModuleMilvus, name, err)
	}
	return recordsFromColumns(rs)
}

func recordsFromColumns(cols []milvusentity.Column) ([]Record, error) {
	var (
		ids        []string
		documents  []string
		metadatas  [][]byte
		embeddings [][]float32
	)
	for _, field := range cols {
		switch col := field.(type) {
		case *milvusentity.ColumnVarChar:
			switch col.Name() {
			case milvusFieldID:
				ids = col.Data()
			case milvusFieldDocument:
				documents = col.Data()
			}
		case *milvusentity.ColumnJSONBytes:
			if col.Name() == milvusFieldMetadata {
				metadatas = col.Data()
			}
		case *milvusentity.ColumnFloatVector:
			if col.Name() == milvusFieldEmbedding {
				embeddings = col.Data()
			}
		}
	}

	out := make([]Record, len(ids))
	for i, id := range ids {
		r := Record{ID: id}
		if i < len(documents) {
			doc := documents[i]
			r.Document = &doc
		}
		if i < len(metadatas) && len(metadatas[i]) > 0 {
			if err := json.Unmarshal(metadatas[i], &r.Metadata); err != nil {
				return nil, fmt.Errorf("%v: decode metadata of %s: %w", config.ModuleMilvus, id, err)
			}
		}
		if i < len(embeddings) {
			r.Embedding = embeddings[i]
		}
		out[i] = r
	}
	return out, nil
}

func (s *MilvusStore) columns(records []Record) ([]milvusentity.Column, error) {
	ids := make([]string, len(records))
	docs := make([]string, len(records))
	metas := make([][]byte, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		ids[i] = r.ID
		if r.Document != nil {
			docs[i] = *r.Document
		}
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata of %s: %v", ErrInvalidRequest, r.ID, err)
		}
		metas[i] = b
		if len(r.Embedding) != s.dim {
			return nil, fmt.Errorf("%w: record %q embedding has %d dimensions, collection expects %d",
				ErrInvalidRequest, r.ID, len(r.Embedding), s.dim)
		}
		vectors[i] = r.Embedding
	}
	return []milvusentity.Column{
		milvusentity.NewColumnVarChar(milvusFieldID, ids),
		milvusentity.NewColumnVarChar(milvusFieldDocument, docs),
		milvusentity.NewColumnJSONBytes(milvusFieldMetadata, metas),
		milvusentity.NewColumnFloatVector(milvusFieldEmbedding, s.dim, vectors),
	}, nil
}

func (s *MilvusStore) AddRecords(ctx context.Context, name string, records []Record) (err error) {
	start := time.Now()
	defer func() { s.observe("add", start, err) }()
	if err := ValidateRecords(records, true); err != nil {
		return err
	}
	if err := s.requireCollection(ctx, name); err != nil {
		return err
	}
	cols, err := s.columns(records)
	if err != nil {
		return err
	}
	if _, err := s.cli.Insert(ctx, name, "", cols...); err != nil {
		return fmt.Errorf("%v: insert into %s: %w", config.ModuleMilvus, name, err)
	}
	return nil
}

// UpdateRecords upserts whole rows; fields missing on a record are read back first.
func (s *MilvusStore) UpdateRecords(ctx context.Context, name string, records []Record) (err error) {
	start := time.Now()
	defer func() { s.observe("update", start, err) }()
	if err := ValidateRecords(records, false); err != nil {
		return err
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	existing, err := s.GetRecords(ctx, name, GetOptions{IDs: ids, IncludeEmbeddings: true})
	if err != nil {
		return err
	}
	byID := make(map[string]Record, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	merged := make([]Record, len(records))
	for i, r := range records {
		old, ok := byID[r.ID]
		if !ok {
			return fmt.Errorf("%w: unknown id %q", ErrInvalidRequest, r.ID)
		}
		if r.Document == nil {
			r.Document = old.Document
		}
		if r.Metadata == nil {
			r.Metadata = old.Metadata
		}
		if len(r.Embedding) == 0 {
			r.Embedding = old.Embedding
		}
		merged[i] = r
	}
	cols, err := s.columns(merged)
	if err != nil {
		return err
	}
	if _, err := s.cli.Upsert(ctx, name, "", cols...); err != nil {
		return fmt.Errorf("%v: upsert into %s: %w", config.ModuleMilvus, name, err)
	}
	return nil
}

func (s *MilvusStore) DeleteRecords(ctx context.Context, name string, ids []string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()
	if len(ids) == 0 {
		return nil
	}
	if err := s.requireCollection(ctx, name); err != nil {
		return err
	}
	if err := s.cli.Delete(ctx, name, "", milvusExpr(ids, nil)); err != nil {
		return fmt.Errorf("%v: delete from %s: %w", config.ModuleMilvus, name, err)
	}
	return nil
}

func (s *MilvusStore) DeleteCollection(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete_collection", start, err) }()
	if err := s.requireCollection(ctx, name); err != nil {
		return err
	}
	if err := s.cli.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("%v: drop %s: %w", config.ModuleMilvus, name, err)
	}
	s.mu.Lock()
	delete(s.loaded, name)
	s.mu.Unlock()
	return nil
}

func (s *MilvusStore) Query(ctx context.Context, name string, embedding []float32, opts QueryOptions) (out []Match, err error) {
	start := time.Now()
	defer func() { s.observe("query", start, err) }()
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrInvalidRequest)
	}
	if opts.NResults <= 0 {
		return nil, fmt.Errorf("%w: n_results must be positive", ErrInvalidRequest)
	}
	if err := s.requireCollection(ctx, name); err != nil {
		return nil, err
	}
	if err := s.ensureLoaded(ctx, name); err != nil {
		return nil, err
	}

	metricType := milvusentity.MetricType(s.index.MetricType)
	searchParam, err := milvusentity.NewIndexHNSWSearchParam(max(s.index.Ef, opts.NResults))
	if err != nil {
		return nil, err
	}

	results, err := s.cli.Search(
		ctx,
		name,
		nil, // partitions
		milvusExpr(nil, opts.Where),
		s.outputFields(opts.IncludeEmbeddings),
		[]milvusentity.Vector{milvusentity.FloatVector(embedding)},
		milvusFieldEmbedding,
		metricType,
		opts.NResults,
		searchParam,
	)
	if err != nil {
		logger.Error(err, "%v: milvus search failed", config.ModuleMilvus)
		return nil, fmt.Errorf("%v: search %s: %w", config.ModuleMilvus, name, err)
	}
	logger.Debug("%v: milvus search done: %dms", config.ModuleMilvus, time.Since(start).Milliseconds())

	if len(results) == 0 {
		return []Match{}, nil
	}
	it := results[0]
	// IDs first so the primary key is known even when output fields omit it
	records, err := recordsFromColumns(append([]milvusentity.Column{it.IDs}, it.Fields...))
	if err != nil {
		return nil, err
	}

	out = make([]Match, 0, it.ResultCount)
	for i := 0; i < it.ResultCount && i < len(records); i++ {
		score := float64(it.Scores[i])
		m := Match{Record: records[i]}
		switch metricType {
		case milvusentity.L2:
			sim := DistanceToSimilarity(SpaceL2, score)
			m.Distance, m.Similarity = &score, &sim
		default:
			dist := 1 - score
			m.Distance, m.Similarity = &dist, &score
		}
		out = append(out, m)
	}
	return out, nil
}

// milvusExpr builds a boolean filter on the primary key and JSON metadata.
func milvusExpr(ids []string, where map[string]any) string {
	var clauses []string
	if len(ids) > 0 {
		quoted := make([]string, len(ids))
		for i, id := range ids {
			quoted[i] = strconv.Quote(id)
		}
		clauses = append(clauses, fmt.Sprintf("%s in [%s]", milvusFieldID, strings.Join(quoted, ",")))
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf("%s[%s] == %s", milvusFieldMetadata, strconv.Quote(k), milvusLiteral(where[k])))
	}
	return strings.Join(clauses, " && ")
}

func milvusLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return strconv.Quote(fmt.Sprint(t))
	}
}
