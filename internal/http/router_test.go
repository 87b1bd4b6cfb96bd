package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	apphttp "github.com/yungbote/dataset-engine/internal/http"
	httpH "github.com/yungbote/dataset-engine/internal/http/handlers"
	"github.com/yungbote/dataset-engine/internal/http/response"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/dataset-engine/internal/platform/gcp"
	"github.com/yungbote/dataset-engine/internal/realtime"
	"github.com/yungbote/dataset-engine/internal/search"
	"github.com/yungbote/dataset-engine/internal/search/searchtest"
	"github.com/yungbote/dataset-engine/internal/services"
)

const prefix = "test-"

type server struct {
	env    *pipelinetest.Env
	engine *searchtest.Engine
	hub    *realtime.Hub
	router *gin.Engine
}

func newServer(t *testing.T, checks map[string]httpH.Check) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := pipelinetest.NewEnv(t)
	engine := searchtest.New()
	datasets := services.NewDatasetService(services.DatasetConfig{IndexPrefix: prefix}, services.DatasetServiceDeps{
		DB:        env.DB,
		Datasets:  env.Datasets,
		Rows:      env.Rows,
		Revisions: env.Revisions,
		Journal:   env.Journal,
		Results:   env.Results,
		Catalog:   env.Catalog,
		Engine:    engine,
		Bucket:    gcp.NewMemoryBucket(),
		Storage:   env.Storage,
		Notifier:  env.Notifier,
	}, env.Log)
	query := services.NewQueryService(services.QueryConfig{IndexPrefix: prefix, ReadAttempts: 2, ReadMaxWait: time.Second},
		env.Datasets, engine, nil, env.Notifier, env.Log)
	hub := realtime.NewHub(env.Log)
	router := apphttp.NewRouter(apphttp.RouterConfig{
		Log:             env.Log,
		DatasetHandler:  httpH.NewDatasetHandler(datasets, env.Storage),
		LinesHandler:    httpH.NewLinesHandler(env.Log, datasets, env.RowStore),
		SearchHandler:   httpH.NewSearchHandler(query),
		RealtimeHandler: httpH.NewRealtimeHandler(env.Log, hub, datasets),
		HealthHandler:   httpH.NewHealthHandler(checks),
	})
	return &server{env: env, engine: engine, hub: hub, router: router}
}

func (s *server) do(t *testing.T, method, path, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Owner", "user:owner-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(bytes.TrimSpace(rec.Body.Bytes()), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

const restBody = `{"title":"Villes","isRest":true,"schema":[{"key":"nom","type":"string"},{"key":"pop","type":"integer"}]}`

func TestDatasetEndpoints(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/datasets", "application/json", restBody, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	created := decode[types.Dataset](t, rec)
	if created.ID != "villes" || created.OwnerID != "owner-1" || created.Status != types.StatusSchematized {
		t.Fatalf("created: unexpected %+v", created)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/datasets?status=schematized", "", "", nil)
	list := decode[struct {
		Count   int              `json:"count"`
		Results []*types.Dataset `json:"results"`
	}](t, rec)
	if list.Count != 1 || list.Results[0].ID != "villes" {
		t.Fatalf("list: unexpected %+v", list)
	}

	rec = s.do(t, http.MethodPatch, "/api/v1/datasets/villes", "application/json", `{"title":"Villes de France"}`, nil)
	if rec.Code != http.StatusOK || decode[types.Dataset](t, rec).Title != "Villes de France" {
		t.Fatalf("patch: code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/datasets/villes/journal", "", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), string(types.EventDatasetCreated)) {
		t.Fatalf("journal: code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/datasets/absent", "", "", nil)
	if rec.Code != http.StatusNotFound || decode[response.ErrorEnvelope](t, rec).Error.Code != "not_found" {
		t.Fatalf("missing: code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/datasets?status=bogus", "", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/datasets/villes", "", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: want=%d got=%d", http.StatusNoContent, rec.Code)
	}
}

func TestAdminControlEndpoints(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/datasets", "application/json", restBody, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/datasets/villes/_advance", "application/json",
		`{"from":"schematized","to":"finalized"}`, nil)
	if rec.Code != http.StatusOK || decode[types.Dataset](t, rec).Status != types.StatusFinalized {
		t.Fatalf("advance: code=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/v1/admin/datasets/villes/_advance", "application/json",
		`{"from":"schematized","to":"finalized"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale advance: want=%d got=%d", http.StatusConflict, rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/v1/admin/datasets/villes/_refinalize", "", "", nil)
	if rec.Code != http.StatusOK || decode[types.Dataset](t, rec).Status != types.StatusExtended {
		t.Fatalf("refinalize: code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLineEndpoints(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/datasets", "application/json", restBody, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/datasets/villes/lines", "application/json", `{"_id":"tours","nom":"Tours","pop":136000}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create line: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/datasets/villes/lines/tours", "", "", nil)
	lastModified := rec.Header().Get("Last-Modified")
	if rec.Code != http.StatusOK || lastModified == "" {
		t.Fatalf("read line: code=%d last-modified=%q", rec.Code, lastModified)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/datasets/villes/lines/tours", "", "", map[string]string{"If-Modified-Since": lastModified})
	if rec.Code != http.StatusNotModified {
		t.Fatalf("conditional read: want=%d got=%d", http.StatusNotModified, rec.Code)
	}

	rec = s.do(t, http.MethodPatch, "/api/v1/datasets/villes/lines/tours", "application/json", `{"pop":137000}`, nil)
	line := decode[map[string]any](t, rec)
	if rec.Code != http.StatusOK || line["nom"] != "Tours" || line["pop"] != float64(137000) {
		t.Fatalf("patch line: code=%d line=%v", rec.Code, line)
	}

	rec = s.do(t, http.MethodPut, "/api/v1/datasets/villes/lines/tours", "application/json", `{"pop":"beaucoup"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid update: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/datasets/villes/lines/tours", "", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete line: want=%d got=%d", http.StatusNoContent, rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/datasets/villes/lines/tours", "", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted line: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/datasets/villes/lines/tours/revisions", "", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("revisions without history: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
}

func TestBulkLinesStatusFollowsFirstFlush(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/datasets", "application/json", restBody, nil)

	allBad := `{"_id":"a","pop":"x"}` + "\n" + `{"_id":"b","pop":"y"}` + "\n"
	rec := s.do(t, http.MethodPost, "/api/v1/datasets/villes/_bulk_lines", "application/x-ndjson", allBad, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("all errors: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
	summary := decode[services.Summary](t, rec)
	if summary.NbOk != 0 || summary.NbErrors != 2 {
		t.Fatalf("all errors summary: unexpected %+v", summary)
	}

	mixed := `{"_id":"a","nom":"Tours"}` + "\n" + `{"_id":"b","pop":"y"}` + "\n" + `{"_id":"c","nom":"Blois"}` + "\n"
	rec = s.do(t, http.MethodPost, "/api/v1/datasets/villes/_bulk_lines", "application/x-ndjson", mixed, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mixed: want=%d got=%d", http.StatusOK, rec.Code)
	}
	summary = decode[services.Summary](t, rec)
	if summary.NbOk != 2 || summary.NbErrors != 1 || summary.Errors[0].Line != 1 {
		t.Fatalf("mixed summary: unexpected %+v", summary)
	}

	csvBody := "_id,nom,pop\nd,Amboise,13000\n"
	rec = s.do(t, http.MethodPost, "/api/v1/datasets/villes/_bulk_lines", "text/csv", csvBody, nil)
	if rec.Code != http.StatusOK || decode[services.Summary](t, rec).NbOk != 1 {
		t.Fatalf("csv: code=%d body=%s", rec.Code, rec.Body.String())
	}
}

// publish stores a finalized dataset whose alias serves docs.
func (s *server) publish(t *testing.T, id string, finalizedAt time.Time, docs map[string]map[string]any) {
	t.Helper()
	ctx := context.Background()
	ds := testutil.RestDataset(id,
		types.Field{Key: "nom", Type: types.TypeString},
		types.Field{Key: "pop", Type: types.TypeInteger},
	)
	ds.FinalizedAt = &finalizedAt
	testutil.SeedDataset(t, ctx, s.env.DB, ds)

	alias := types.AliasName(prefix, id)
	index := search.IndexName(alias, 1)
	if err := s.engine.CreateIndex(ctx, index, nil); err != nil {
		t.Fatalf("create index: %v", err)
	}
	if err := s.engine.SwitchAlias(ctx, alias, index); err != nil {
		t.Fatalf("alias: %v", err)
	}
	ops := make([]search.BulkOp, 0, len(docs))
	for docID, doc := range docs {
		ops = append(ops, search.BulkOp{Action: search.BulkIndex, ID: docID, Doc: doc})
	}
	if err := s.engine.Bulk(ctx, index, ops); err != nil {
		t.Fatalf("bulk: %v", err)
	}
}

func TestLinesSearchHonoursFinalizedAt(t *testing.T) {
	s := newServer(t, nil)
	finalizedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.publish(t, "villes", finalizedAt, map[string]map[string]any{
		"1": {"nom": "Paris", "pop": 2100000},
		"2": {"nom": "Lyon", "pop": 520000},
	})

	rec := s.do(t, http.MethodGet, "/api/v1/datasets/villes/lines?nom_eq=Paris", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	res := decode[services.LinesResult](t, rec)
	if res.Total != 1 || res.Results[0]["_id"] != "1" {
		t.Fatalf("search: unexpected %+v", res)
	}
	if got := rec.Header().Get("Last-Modified"); got != finalizedAt.Format(http.TimeFormat) {
		t.Fatalf("last-modified: want=%q got=%q", finalizedAt.Format(http.TimeFormat), got)
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Fatalf("cache-control missing")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/datasets/villes/lines", "", "", map[string]string{
		"If-Modified-Since": finalizedAt.Add(time.Minute).Format(http.TimeFormat),
	})
	if rec.Code != http.StatusNotModified {
		t.Fatalf("not modified: want=%d got=%d", http.StatusNotModified, rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/datasets/villes/values/inconnu", "", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown values field: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
}

func TestLinesSearchRejectsUnpublishedDataset(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/datasets", "application/json", restBody, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/datasets/villes/lines", "", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unpublished: want=%d got=%d", http.StatusConflict, rec.Code)
	}
}

func TestReadinessReportsFailingCheck(t *testing.T) {
	s := newServer(t, map[string]httpH.Check{
		"db":     func(context.Context) error { return nil },
		"search": func(context.Context) error { return errors.New("unreachable") },
	})
	rec := s.do(t, http.MethodGet, "/readiness", "", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readiness: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
	out := decode[map[string]string](t, rec)
	if out["db"] != "ok" || out["search"] != "unreachable" {
		t.Fatalf("readiness body: unexpected %v", out)
	}
	if rec := s.do(t, http.MethodGet, "/healthcheck", "", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthcheck: want=%d got=%d", http.StatusOK, rec.Code)
	}
}

func TestEventStreamDeliversJournal(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/datasets", "application/json", restBody, nil)
	ts := httptest.NewServer(s.router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/datasets/villes/events?topics=journal", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %q", ct)
	}

	channel := realtime.JournalChannel("villes")
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Subscribers(channel) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.hub.Broadcast(realtime.Message{Channel: channel, Event: realtime.EventJournal, Data: map[string]string{"type": "index-end"}})

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, "index-end") {
				t.Fatalf("event data: got %q", line)
			}
			return
		}
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}

func TestEventStreamRejectsUnknownTopic(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/datasets", "application/json", restBody, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/datasets/villes/events?topics=gossip", "", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown topic: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
}
