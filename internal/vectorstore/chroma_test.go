package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"chroma-rag/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCollectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

// fakeChroma records request bodies and serves canned responses.
type fakeChroma struct {
	mu       sync.Mutex
	bodies   map[string]map[string]any
	lookups  int
	deleted  bool
	collID   string
	meta     map[string]any
	response map[string]any
	cfg      config.ChromaConfig
}

func newFakeChroma(t *testing.T) (*fakeChroma, *ChromaStore) {
	t.Helper()
	f := &fakeChroma{bodies: map[string]map[string]any{}, collID: "c-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"nanosecond heartbeat": 1})
	})
	mux.HandleFunc("GET "+testCollectionsPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "c-1", "name": "pozos", "metadata": map[string]any{"hnsw:space": "cosine"}},
		})
	})
	mux.HandleFunc("POST "+testCollectionsPath, func(w http.ResponseWriter, r *http.Request) {
		f.record("create", r)
		writeJSON(w, http.StatusOK, map[string]any{"id": f.currentID(), "name": "pozos"})
	})
	mux.HandleFunc("GET "+testCollectionsPath+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lookups++
		f.mu.Unlock()
		if r.PathValue("name") != "pozos" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "NotFoundError", "message": "Collection [x] does not exist"})
			return
		}
		f.mu.Lock()
		meta := f.meta
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": f.currentID(), "name": "pozos", "metadata": meta})
	})
	mux.HandleFunc("DELETE "+testCollectionsPath+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET "+testCollectionsPath+"/{id}/count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, 7)
	})
	mux.HandleFunc("POST "+testCollectionsPath+"/{id}/{op}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != f.currentID() {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "NotFoundError", "message": "collection does not exist"})
			return
		}
		op := r.PathValue("op")
		f.record(op, r)
		f.mu.Lock()
		resp := f.response
		f.mu.Unlock()
		switch op {
		case "add":
			writeJSON(w, http.StatusCreated, map[string]any{})
		case "get", "query":
			writeJSON(w, http.StatusOK, resp)
		default:
			writeJSON(w, http.StatusOK, map[string]any{})
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	f.cfg = config.ChromaConfig{
		Scheme:         "http",
		Host:           u.Hostname(),
		Port:           port,
		Tenant:         "default_tenant",
		Database:       "default_database",
		Space:          SpaceCosine,
		TimeoutSeconds: 5,
	}
	return f, NewChromaStore(f.cfg)
}

func (f *fakeChroma) record(op string, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.bodies[op] = body
	f.mu.Unlock()
}

func (f *fakeChroma) body(op string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[op]
}

func (f *fakeChroma) currentID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collID
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestChromaStore_HeartbeatAndList(t *testing.T) {
	_, store := newFakeChroma(t)
	ctx := context.Background()

	require.NoError(t, store.Heartbeat(ctx))

	cols, err := store.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "pozos", cols[0].Name)
	assert.Equal(t, "c-1", cols[0].ID)
}

func TestChromaStore_CollectionInfo(t *testing.T) {
	_, store := newFakeChroma(t)

	info, err := store.CollectionInfo(context.Background(), "pozos")
	require.NoError(t, err)
	assert.Equal(t, 7, info.Count)
	assert.Equal(t, "c-1", info.ID)

	_, err = store.CollectionInfo(context.Background(), "otra")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromaStore_QueryConvertsDistances(t *testing.T) {
	f, store := newFakeChroma(t)
	f.response = map[string]any{
		"ids":       [][]string{{"a", "b"}},
		"documents": [][]any{{"doc a", nil}},
		"metadatas": [][]any{{map[string]any{"source": "manual"}, nil}},
		"distances": [][]any{{0.1, 0.6}},
	}

	matches, err := store.Query(context.Background(), "pozos", []float32{0.1, 0.2}, QueryOptions{
		NResults: 2,
		Where:    map[string]any{"category": "pozos", "source": "manual"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "doc a", *matches[0].Document)
	assert.Equal(t, "manual", matches[0].Metadata["source"])
	assert.InDelta(t, 0.9, *matches[0].Similarity, 1e-9)
	assert.InDelta(t, 0.1, *matches[0].Distance, 1e-9)
	assert.Nil(t, matches[1].Document)
	assert.InDelta(t, 0.4, *matches[1].Similarity, 1e-9)

	sent := f.body("query")
	assert.EqualValues(t, 2, sent["n_results"])
	assert.Equal(t, []any{"documents", "metadatas", "distances"}, sent["include"])
	assert.Equal(t, map[string]any{"$and": []any{
		map[string]any{"category": "pozos"},
		map[string]any{"source": "manual"},
	}}, sent["where"])
}

func TestChromaStore_QueryUsesCollectionSpace(t *testing.T) {
	f, store := newFakeChroma(t)
	f.meta = map[string]any{"hnsw:space": SpaceL2}
	f.response = map[string]any{
		"ids":       [][]string{{"a"}},
		"distances": [][]any{{0.4}},
	}

	matches, err := store.Query(context.Background(), "pozos", []float32{1, 0}, QueryOptions{NResults: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.8, *matches[0].Similarity, 1e-9, "l2 from collection metadata wins over the configured cosine")
	assert.InDelta(t, 0.4, *matches[0].Distance, 1e-9)
}

func TestChromaStore_GetRecords(t *testing.T) {
	f, store := newFakeChroma(t)
	f.response = map[string]any{
		"ids":        []string{"a"},
		"documents":  []any{"doc a"},
		"metadatas":  []any{map[string]any{"page": 2}},
		"embeddings": [][]float32{{0.5, 0.5}},
	}

	recs, err := store.GetRecords(context.Background(), "pozos", GetOptions{IDs: []string{"a"}, IncludeEmbeddings: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []float32{0.5, 0.5}, recs[0].Embedding)
	assert.EqualValues(t, 2, recs[0].Metadata["page"])

	sent := f.body("get")
	assert.Equal(t, []any{"a"}, sent["ids"])
	assert.Equal(t, []any{"documents", "metadatas", "embeddings"}, sent["include"])
	assert.NotContains(t, sent, "where")
}

func TestChromaStore_AddUpdateDelete(t *testing.T) {
	f, store := newFakeChroma(t)
	ctx := context.Background()

	err := store.AddRecords(ctx, "pozos", []Record{
		{ID: "a", Document: text("x"), Metadata: map[string]any{"category": "c"}, Embedding: []float32{1, 0}},
		{ID: "b", Document: text("y"), Embedding: []float32{0, 1}},
	})
	require.NoError(t, err)
	added := f.body("add")
	assert.Equal(t, []any{"a", "b"}, added["ids"])
	assert.Len(t, added["embeddings"], 2)
	assert.Equal(t, []any{map[string]any{"category": "c"}, nil}, added["metadatas"])

	require.NoError(t, store.UpdateRecords(ctx, "pozos", []Record{{ID: "a", Document: text("z")}}))
	updated := f.body("update")
	assert.NotContains(t, updated, "embeddings")
	assert.Equal(t, []any{"z"}, updated["documents"])

	require.NoError(t, store.DeleteRecords(ctx, "pozos", []string{"a"}))
	assert.Equal(t, []any{"a"}, f.body("delete")["ids"])

	assert.ErrorIs(t, store.AddRecords(ctx, "pozos", []Record{{ID: "a"}}), ErrInvalidRequest)
}

func TestChromaStore_RefreshesStaleCollectionID(t *testing.T) {
	f, store := newFakeChroma(t)
	f.response = map[string]any{"ids": []string{}}
	ctx := context.Background()

	_, err := store.GetRecords(ctx, "pozos", GetOptions{})
	require.NoError(t, err)

	// the collection was recreated behind our back
	f.mu.Lock()
	f.collID = "c-2"
	f.mu.Unlock()

	_, err = store.GetRecords(ctx, "pozos", GetOptions{})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.lookups)
}

func TestChromaStore_EnsureAndDeleteCollection(t *testing.T) {
	f, store := newFakeChroma(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureCollection(ctx, "pozos"))
	created := f.body("create")
	assert.Equal(t, "pozos", created["name"])
	assert.Equal(t, true, created["get_or_create"])
	assert.Equal(t, map[string]any{"hnsw:space": "cosine"}, created["metadata"])

	require.NoError(t, store.DeleteCollection(ctx, "pozos"))
	f.mu.Lock()
	assert.True(t, f.deleted)
	f.mu.Unlock()
}

func TestChromaStore_Unavailable(t *testing.T) {
	store := NewChromaStore(config.ChromaConfig{
		Scheme: "http", Host: "127.0.0.1", Port: 1, Tenant: "t", Database: "d", TimeoutSeconds: 1,
	})
	assert.ErrorIs(t, store.Heartbeat(context.Background()), ErrUnavailable)
}

func TestChromaWhere(t *testing.T) {
	assert.Nil(t, chromaWhere(nil))
	assert.Equal(t, map[string]any{"a": 1}, chromaWhere(map[string]any{"a": 1}))
}
