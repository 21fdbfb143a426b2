package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chroma-rag/config"
	"chroma-rag/internal/api/ingest"
	"chroma-rag/internal/core/retriever"
	"chroma-rag/internal/services/audit"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/internal/services/items"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/logger"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps each text onto three axes: pumps, flow, everything else.
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return keywordVector(text), nil
}

func (keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func keywordVector(text string) []float32 {
	t := strings.ToLower(text)
	v := []float32{0, 0, 0}
	if strings.Contains(t, "bomba") {
		v[0] = 1
	}
	if strings.Contains(t, "caudal") {
		v[1] = 1
	}
	if v[0] == 0 && v[1] == 0 {
		v[2] = 1
	}
	return v
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code"`
}

type testServer struct {
	app        *fiber.App
	store      *vectorstore.MemoryStore
	storageDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger.SetOutput(io.Discard)

	cfg := config.Default()
	cfg.VectorBackend = config.BackendMemory
	cfg.Ingest.ChunkTokens = 50
	cfg.Ingest.ChunkOverlap = 5

	store := vectorstore.NewMemoryStore()
	emb := keywordEmbedder{}
	dir := t.TempDir()
	app := New(cfg, Deps{
		Store:     store,
		Retriever: retriever.New(store, emb, cfg.Retriever),
		Ingest:    ingestsvc.NewService(store, emb, nil, nil, cfg.Ingest),
		Items:     items.NewMemoryRepository(),
		Audit:     audit.Nop{},
		Storage:   ingest.Storage{Dir: dir},
	})
	return &testServer{app: app, store: store, storageDir: dir}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, envelope, string) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (int, envelope, string) {
	t.Helper()
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env, string(raw)
}

func (s *testServer) addDocument(t *testing.T, collection, text, category string) string {
	t.Helper()
	code, env, raw := s.do(t, http.MethodPost, "/chroma/collections/"+collection+"/documents",
		map[string]any{"text": text, "category": category})
	require.Equal(t, http.StatusCreated, code, raw)
	var doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	require.NotEmpty(t, doc.ID)
	return doc.ID
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, _, raw := s.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, code)
	root := decode[map[string]any](t, json.RawMessage(raw))
	assert.Equal(t, "running", root["status"])
	assert.Equal(t, config.Default().Server.AppName, root["service"])
	assert.Equal(t, config.BackendMemory, root["vector_backend"])

	code, _, raw = s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy"}`, raw)

	code, _, raw = s.do(t, http.MethodGet, "/health/vectorstore", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", raw)

	code, _, raw = s.do(t, http.MethodGet, "/health/database", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disabled", raw)

	code, _, raw = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, raw, "# HELP")
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-123", resp.Header.Get("X-Request-ID"))
}

func TestDocumentsLifecycle(t *testing.T) {
	s := newTestServer(t)
	bomba := s.addDocument(t, "pozos", "La bomba sumergible del pozo 7", "mantenimiento")
	caudal := s.addDocument(t, "pozos", "Medición de caudal diario", "operacion")
	s.addDocument(t, "pozos", "Horario de la oficina", "")

	code, env, _ := s.do(t, http.MethodGet, "/chroma/collections", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[struct {
		Collections []string `json:"collections"`
		Count       int      `json:"count"`
	}](t, env.Data)
	assert.Equal(t, []string{"pozos"}, list.Collections)
	assert.Equal(t, 1, list.Count)

	code, env, _ = s.do(t, http.MethodGet, "/chroma/collections/pozos?ids="+bomba+","+caudal+"&include_embeddings=true", nil)
	require.Equal(t, http.StatusOK, code)
	cols := decode[struct {
		Count      int              `json:"count"`
		IDs        []string         `json:"ids"`
		Metadatas  []map[string]any `json:"metadatas"`
		Embeddings [][]float32      `json:"embeddings"`
	}](t, env.Data)
	assert.Equal(t, 2, cols.Count)
	assert.Equal(t, []string{bomba, caudal}, cols.IDs)
	assert.Equal(t, "mantenimiento", cols.Metadatas[0][ingestsvc.MetaCategory])
	assert.Len(t, cols.Embeddings, 2)

	code, env, _ = s.do(t, http.MethodGet, "/chroma/collections/pozos/info", nil)
	require.Equal(t, http.StatusOK, code)
	info := decode[map[string]any](t, env.Data)
	assert.EqualValues(t, 3, info["count"])

	code, _, _ = s.do(t, http.MethodPut, "/chroma/collections/pozos/documents/"+caudal,
		map[string]any{"category": "hidraulica"})
	require.Equal(t, http.StatusOK, code)

	code, env, _ = s.do(t, http.MethodGet, "/chroma/collections/pozos/documents/"+caudal, nil)
	require.Equal(t, http.StatusOK, code)
	doc := decode[struct {
		Document string         `json:"document"`
		Metadata map[string]any `json:"metadata"`
	}](t, env.Data)
	assert.Equal(t, "Medición de caudal diario", doc.Document)
	assert.Equal(t, "hidraulica", doc.Metadata[ingestsvc.MetaCategory])

	code, _, _ = s.do(t, http.MethodPut, "/chroma/collections/pozos/documents/"+caudal, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, _ = s.do(t, http.MethodDelete, "/chroma/collections/pozos/documents/"+caudal, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, env, _ = s.do(t, http.MethodGet, "/chroma/collections/pozos/documents/"+caudal, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "AI-1001", env.ErrorCode)

	code, _, _ = s.do(t, http.MethodDelete, "/chroma/collections/pozos", nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, env, _ = s.do(t, http.MethodGet, "/chroma/collections/pozos/info", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "AI-1000", env.ErrorCode)
}

func TestCollectionNamesOutliveRequests(t *testing.T) {
	s := newTestServer(t)
	s.addDocument(t, "pozos", "bomba uno", "")

	// unrelated requests in between reuse the request buffers
	code, _, _ := s.do(t, http.MethodGet, "/chroma/collections/otra-coleccion-larga", nil)
	require.Equal(t, http.StatusNotFound, code)
	code, _, _ = s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)

	code, env, raw := s.do(t, http.MethodGet, "/chroma/collections", nil)
	require.Equal(t, http.StatusOK, code, raw)
	list := decode[struct {
		Collections []string `json:"collections"`
	}](t, env.Data)
	assert.Equal(t, []string{"pozos"}, list.Collections)

	code, _, raw = s.do(t, http.MethodPost, "/retrievers/collections/pozos/mmr", map[string]any{
		"query": "bomba",
		"k":     1,
	})
	assert.Equal(t, http.StatusOK, code, raw)
}

func TestUpdateUnknownDocument(t *testing.T) {
	s := newTestServer(t)
	s.addDocument(t, "pozos", "bomba uno", "")

	code, env, _ := s.do(t, http.MethodPut, "/chroma/collections/pozos/documents/missing",
		map[string]any{"text": "bomba nueva"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "AI-1001", env.ErrorCode)
}

func TestAddDocumentValidation(t *testing.T) {
	s := newTestServer(t)

	code, env, _ := s.do(t, http.MethodPost, "/chroma/collections/pozos/documents", map[string]any{"category": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-1", env.ErrorCode)

	code, env, _ = s.do(t, http.MethodPost, "/chroma/collections/pozos/documents", map[string]any{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-1002", env.ErrorCode)

	req := httptest.NewRequest(http.MethodPost, "/chroma/collections/pozos/documents", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	code, env, _ = s.send(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-0", env.ErrorCode)
}

type retrieveData struct {
	Strategy string `json:"strategy"`
	Count    int    `json:"count"`
	Results  []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"results"`
	Evaluation struct {
		TotalRetrieved int     `json:"total_retrieved"`
		ThresholdUsed  float64 `json:"threshold_used"`
		IsValid        bool    `json:"is_valid"`
		Mode           string  `json:"mode"`
	} `json:"evaluation"`
	TopScores []float64 `json:"top_scores"`
	Context   string    `json:"context"`
	Answer    string    `json:"answer"`
}

func TestRetrieveEndpoint(t *testing.T) {
	s := newTestServer(t)
	bomba := s.addDocument(t, "pozos", "La bomba sumergible del pozo 7", "mantenimiento")
	s.addDocument(t, "pozos", "Medición de caudal diario", "operacion")
	s.addDocument(t, "pozos", "Horario de la oficina", "")

	code, env, raw := s.do(t, http.MethodPost, "/retrievers/collections/pozos/retrieve", map[string]any{
		"query":           "¿Qué bomba usa el pozo?",
		"strategy":        "dense",
		"threshold_mode":  "absolute",
		"threshold_value": 0.5,
	})
	require.Equal(t, http.StatusOK, code, raw)
	got := decode[retrieveData](t, env.Data)
	assert.Equal(t, "dense", got.Strategy)
	assert.True(t, got.Evaluation.IsValid)
	assert.Equal(t, "absolute", got.Evaluation.Mode)
	assert.Equal(t, 3, got.Evaluation.TotalRetrieved)
	require.Equal(t, 1, got.Count)
	assert.Equal(t, bomba, got.Results[0].ID)
	assert.InDelta(t, 1.0, got.Results[0].Score, 1e-5)
	assert.Contains(t, got.Context, "[Documento 1] (Relevancia: 1.0000)")
	assert.Contains(t, got.Context, "Metadatos: categoria: mantenimiento")
	assert.True(t, strings.HasPrefix(got.Answer, "Contexto recuperado (1 documentos):"))
	assert.Len(t, got.TopScores, 3)

	// use case picks the strategy when none is given
	code, env, _ = s.do(t, http.MethodPost, "/retrievers/collections/pozos/retrieve", map[string]any{
		"query":    "caudal",
		"use_case": "comprehensive",
	})
	require.Equal(t, http.StatusOK, code)
	got = decode[retrieveData](t, env.Data)
	assert.Equal(t, "ensemble", got.Strategy)

	// a threshold nobody reaches yields the fallback answer
	code, env, _ = s.do(t, http.MethodPost, "/retrievers/collections/pozos/retrieve", map[string]any{
		"query":           "bomba",
		"threshold_mode":  "absolute",
		"threshold_value": 1.5,
	})
	require.Equal(t, http.StatusOK, code)
	got = decode[retrieveData](t, env.Data)
	assert.False(t, got.Evaluation.IsValid)
	assert.Zero(t, got.Count)
	assert.Contains(t, got.Answer, "umbral usado: 1.5000")
}

func TestRetrieveEndpoint_Filters(t *testing.T) {
	s := newTestServer(t)
	s.addDocument(t, "pozos", "bomba principal", "mantenimiento")
	other := s.addDocument(t, "pozos", "bomba de respaldo", "compras")

	code, env, raw := s.do(t, http.MethodPost, "/retrievers/collections/pozos/retrieve", map[string]any{
		"query":           "bomba",
		"filters":         map[string]any{"categoria": "compras", "additionalProp1": map[string]any{}},
		"threshold_mode":  "relative",
		"threshold_value": 0.9,
	})
	require.Equal(t, http.StatusOK, code, raw)
	got := decode[retrieveData](t, env.Data)
	require.Equal(t, 1, got.Count)
	assert.Equal(t, other, got.Results[0].ID)
}

func TestRetrieveEndpoint_Errors(t *testing.T) {
	s := newTestServer(t)
	s.addDocument(t, "pozos", "bomba", "")

	cases := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing query", "/retrievers/collections/pozos/retrieve", map[string]any{}, http.StatusBadRequest, "AI-1"},
		{"blank query", "/retrievers/collections/pozos/retrieve", map[string]any{"query": "   "}, http.StatusBadRequest, "AI-2000"},
		{"unknown strategy", "/retrievers/collections/pozos/retrieve", map[string]any{"query": "bomba", "strategy": "bm25"}, http.StatusBadRequest, "AI-2002"},
		{"bad threshold", "/retrievers/collections/pozos/retrieve", map[string]any{"query": "bomba", "threshold_mode": "relative", "threshold_value": 2}, http.StatusBadRequest, "AI-2001"},
		{"unknown mode", "/retrievers/collections/pozos/retrieve", map[string]any{"query": "bomba", "threshold_mode": "median"}, http.StatusBadRequest, "AI-2001"},
		{"unknown collection", "/retrievers/collections/otra/retrieve", map[string]any{"query": "bomba"}, http.StatusNotFound, "AI-1000"},
		{"bad lambda", "/retrievers/collections/pozos/mmr", map[string]any{"query": "bomba", "lambda_mult": 1.5}, http.StatusBadRequest, "AI-2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env, raw := s.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, code, raw)
			assert.Equal(t, tc.code, env.ErrorCode)
		})
	}
}

func TestMMREndpoint(t *testing.T) {
	s := newTestServer(t)
	s.addDocument(t, "pozos", "bomba uno", "")
	s.addDocument(t, "pozos", "bomba dos", "")
	s.addDocument(t, "pozos", "caudal", "")

	// min_score acts as an absolute cutoff when no threshold_mode is sent
	code, env, raw := s.do(t, http.MethodPost, "/retrievers/collections/pozos/mmr", map[string]any{
		"query":       "bomba",
		"k":           3,
		"fetch_k":     3,
		"lambda_mult": 1,
		"min_score":   0.5,
	})
	require.Equal(t, http.StatusOK, code, raw)
	var got struct {
		Count      int     `json:"count"`
		SearchType string  `json:"search_type"`
		MinScore   float64 `json:"min_score"`
		Evaluation struct {
			TotalRetrieved int     `json:"total_retrieved"`
			ThresholdUsed  float64 `json:"threshold_used"`
			Mode           string  `json:"mode"`
		} `json:"evaluation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "mmr", got.SearchType)
	assert.Equal(t, 0.5, got.MinScore)
	assert.Equal(t, "absolute", got.Evaluation.Mode)
	assert.Equal(t, 0.5, got.Evaluation.ThresholdUsed)
	assert.Equal(t, 3, got.Evaluation.TotalRetrieved)
	assert.Equal(t, 2, got.Count)
}

func TestIngestEndpoint(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(t.TempDir(), "manual.txt")
	body := strings.Repeat("La bomba del pozo necesita revisión mensual. ", 20)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	code, env, raw := s.do(t, http.MethodPost, "/chroma/collections/manuales/ingest",
		map[string]any{"source": path, "category": "manual"})
	require.Equal(t, http.StatusCreated, code, raw)
	res := decode[ingestsvc.Result](t, env.Data)
	assert.Equal(t, "manuales", res.Collection)
	assert.Equal(t, 1, res.Pages)
	assert.Greater(t, res.Chunks, 1)
	assert.Len(t, res.IDs, res.Chunks)

	info, err := s.store.CollectionInfo(context.Background(), "manuales")
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, info.Count)

	code, env, _ = s.do(t, http.MethodPost, "/chroma/collections/manuales/ingest",
		map[string]any{"source": filepath.Join(t.TempDir(), "missing.pdf")})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-4000", env.ErrorCode)

	code, env, _ = s.do(t, http.MethodPost, "/chroma/collections/manuales/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-1", env.ErrorCode)
}

func TestUploadEndpoint(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "nota.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Medición de caudal en el pozo 3"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("category", "operacion"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/chroma/collections/notas/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, env, raw := s.send(t, req)
	require.Equal(t, http.StatusCreated, code, raw)

	res := decode[ingestsvc.Result](t, env.Data)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, s.storageDir, filepath.Dir(res.Source))
	assert.Equal(t, ".txt", filepath.Ext(res.Source))

	recs, err := s.store.GetRecords(context.Background(), "notas", vectorstore.GetOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "operacion", recs[0].Metadata[ingestsvc.MetaCategory])

	req = httptest.NewRequest(http.MethodPost, "/chroma/collections/notas/upload", nil)
	code, env, _ = s.send(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-1", env.ErrorCode)
}

func TestItemsEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, env, raw := s.do(t, http.MethodPost, "/items", map[string]any{"name": "Bomba 2HP", "price": 350.5})
	require.Equal(t, http.StatusCreated, code, raw)
	created := decode[map[string]any](t, env.Data)
	id := int64(created["id"].(float64))
	require.Positive(t, id)

	path := "/items/" + jsonNumber(id)
	code, env, _ = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Bomba 2HP", decode[map[string]any](t, env.Data)["name"])

	code, env, _ = s.do(t, http.MethodPut, path, map[string]any{"name": "Bomba 3HP", "price": 410})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Bomba 3HP", decode[map[string]any](t, env.Data)["name"])

	code, env, _ = s.do(t, http.MethodGet, "/items", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	code, _, _ = s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, env, _ = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "AI-3000", env.ErrorCode)

	code, env, _ = s.do(t, http.MethodPost, "/items", map[string]any{"price": 1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-1", env.ErrorCode)

	code, env, _ = s.do(t, http.MethodGet, "/items/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AI-2", env.ErrorCode)
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
