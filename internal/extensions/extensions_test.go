package extensions

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/ctxutil"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

func geocoderFixture() (*datasets.RemoteService, datasets.Action) {
	action := datasets.Action{
		ID:     "geocode",
		Method: "POST",
		Path:   "/coords",
		Input: []datasets.ActionParam{
			{Name: "key", Concept: datasets.ConceptIdentifier},
			{Name: "q", Concept: datasets.ConceptAddress},
		},
		Output: []datasets.ActionParam{
			{Name: "key", Concept: datasets.ConceptIdentifier},
			{Name: "lat", Concept: datasets.ConceptLatitude, Type: "number"},
			{Name: "lon", Concept: datasets.ConceptLongitude, Type: "number"},
			{Name: "error"},
		},
	}
	svc := &datasets.RemoteService{ID: "geocoder", APIKeyHeader: "x-apiKey", APIKeyValue: "secret"}
	return svc, action
}

func TestMapperInputAndHash(t *testing.T) {
	_, action := geocoderFixture()
	fields := []datasets.Field{{Key: "adr", Type: "string", RefersTo: datasets.ConceptAddress}}
	m, err := NewMapper(datasets.Extension{RemoteService: "geocoder", Action: "geocode", Active: true}, action, fields)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	in1, h1, _ := m.Input(map[string]any{"adr": "1 rue X", "other": 1})
	_, h2, _ := m.Input(map[string]any{"adr": "1 rue X", "other": 2})
	_, h3, _ := m.Input(map[string]any{"adr": "2 rue X"})
	if h1 != h2 {
		t.Fatalf("unrelated field changed hash")
	}
	if h1 == h3 {
		t.Fatalf("input change should change hash")
	}
	req := m.Request("row1", in1)
	if req["q"] != "1 rue X" || req["key"] != "row1" {
		t.Fatalf("request: got=%v", req)
	}
}

func TestMapperRejectsUnboundAction(t *testing.T) {
	_, action := geocoderFixture()
	_, err := NewMapper(datasets.Extension{RemoteService: "geocoder", Action: "geocode"}, action, []datasets.Field{{Key: "x", Type: "string"}})
	if err == nil {
		t.Fatalf("want error when no field matches")
	}
}

func TestMapperOutputKeepsSelection(t *testing.T) {
	_, action := geocoderFixture()
	fields := []datasets.Field{{Key: "adr", Type: "string", RefersTo: datasets.ConceptAddress}}
	m, _ := NewMapper(datasets.Extension{RemoteService: "geocoder", Action: "geocode", Select: []string{"lat"}}, action, fields)
	id, out, errMsg := m.Output(map[string]any{"key": "row1", "lat": 1.5, "lon": 2.5, "error": "approx"})
	if id != "row1" || errMsg != "approx" {
		t.Fatalf("id/err: got=%s/%s", id, errMsg)
	}
	if len(out) != 1 || out["lat"] != 1.5 {
		t.Fatalf("output: want only lat, got=%v", out)
	}
}

func TestClientSendsNDJSONWithHeaders(t *testing.T) {
	var gotKey, gotOwner, gotRequest, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-apiKey")
		gotOwner = r.Header.Get("x-ownerId")
		gotRequest = r.Header.Get("X-Request-Id")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, "{\"key\":\"a\",\"lat\":1}\n\n{\"key\":\"b\",\"lat\":2}\n")
	}))
	defer srv.Close()

	svc, action := geocoderFixture()
	svc.Server = srv.URL
	c := NewClient(time.Second, logger.Nop())
	ctx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{RequestID: "run-7"})
	out, err := c.Call(ctx, svc, action, datasets.Owner{Type: "user", ID: "u1"},
		[]map[string]any{{"key": "a", "q": "x"}, {"key": "b", "q": "y"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out) != 2 || out[1]["key"] != "b" {
		t.Fatalf("outputs: got=%v", out)
	}
	if gotKey != "secret" || gotOwner != "user:u1" || gotRequest != "run-7" {
		t.Fatalf("headers: key=%q owner=%q request=%q", gotKey, gotOwner, gotRequest)
	}
	if strings.Count(gotBody, "\n") != 2 {
		t.Fatalf("body should hold 2 lines, got=%q", gotBody)
	}
}

func TestClientSingleAttemptOnFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc, action := geocoderFixture()
	svc.Server = srv.URL
	_, err := NewClient(time.Second, logger.Nop()).Call(context.Background(), svc, action, datasets.Owner{}, []map[string]any{{"key": "a"}})
	if err == nil {
		t.Fatalf("want error")
	}
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestReadNDJSONBadLine(t *testing.T) {
	if _, err := ReadNDJSON(strings.NewReader("{\"a\":1}\nnot json\n")); err == nil {
		t.Fatalf("want error on bad line")
	}
}
