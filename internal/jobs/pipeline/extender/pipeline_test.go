package extender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gorm.io/datatypes"

	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/extensions"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/pipelinetest"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/schema"
	"github.com/yungbote/dataset-engine/internal/search"
	"github.com/yungbote/dataset-engine/internal/search/searchtest"
)

const prefix = "test-"

const catalogYAML = `
services:
  - id: geocoder
    server: http://geocoder.local
    actions:
      - id: coords
        path: /coords
        input:
          - name: key
            concept: http://www.w3.org/2000/01/rdf-schema#label
          - name: q
            concept: http://schema.org/address
        output:
          - name: key
            concept: http://www.w3.org/2000/01/rdf-schema#label
          - name: city
            type: string
`

// fakeClient answers every input with city = "<prefix><q>".
type fakeClient struct {
	mu       sync.Mutex
	prefix   string
	err      error
	calls    int
	requests [][]map[string]any
}

func (c *fakeClient) Call(_ context.Context, _ *types.RemoteService, _ types.Action, _ types.Owner, inputs []map[string]any) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.requests = append(c.requests, inputs)
	if c.err != nil {
		return nil, c.err
	}
	out := make([]map[string]any, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, map[string]any{"key": in["key"], "city": fmt.Sprint(c.prefix, in["q"])})
	}
	return out, nil
}

type fixture struct {
	env    *pipelinetest.Env
	engine *searchtest.Engine
	client *fakeClient
	p      *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := pipelinetest.NewEnv(t)
	env.SeedCatalog(t, catalogYAML)
	engine := searchtest.New()
	client := &fakeClient{prefix: "v1:"}
	p := New(Config{IndexPrefix: prefix, BatchSize: 2}, env.Log, engine, env.Results, env.Catalog, client, nil)
	return &fixture{env: env, engine: engine, client: client, p: p}
}

// indexed publishes docs under the dataset alias and stores the dataset as indexed.
func (f *fixture) indexed(t *testing.T, id string, ext types.Extension, docs map[string]string) *types.Dataset {
	t.Helper()
	ctx := context.Background()
	catalog, _ := f.env.Catalog.All(ctx)
	base := []types.Field{{Key: "adresse", Type: types.TypeString, RefersTo: types.ConceptAddress}}
	fields := schema.Extended(schema.WithExtensions(base, []types.Extension{ext}, catalog), schema.Options{IsRest: true})
	ds := testutil.RestDataset(id, fields...)
	ds.Status = types.StatusIndexed
	ds.Extensions = datatypes.JSONSlice[types.Extension]{ext}

	alias := types.AliasName(prefix, id)
	index := search.IndexName(alias, 1)
	if err := f.engine.CreateIndex(ctx, index, schema.Mapping(fields)); err != nil {
		t.Fatalf("create index: %v", err)
	}
	if err := f.engine.SwitchAlias(ctx, alias, index); err != nil {
		t.Fatalf("alias: %v", err)
	}
	var ops []search.BulkOp
	for docID, adr := range docs {
		ops = append(ops, search.BulkOp{Action: search.BulkIndex, ID: docID, Doc: map[string]any{types.KeyID: docID, "adresse": adr}})
	}
	if err := f.engine.Bulk(ctx, alias, ops); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	return ds
}

func (f *fixture) run(t *testing.T, ds *types.Dataset) *types.Dataset {
	t.Helper()
	if err := f.p.Run(f.env.Claimed(t, ds, types.StatusExtending)); err != nil {
		t.Fatalf("run: %v", err)
	}
	return f.env.Reload(t, ds.ID)
}

func (f *fixture) city(t *testing.T, datasetID, docID string) any {
	t.Helper()
	doc, ok := f.engine.Doc(types.AliasName(prefix, datasetID), docID)
	if !ok {
		t.Fatalf("doc %s missing", docID)
	}
	out, _ := doc[types.ExtensionKey("geocoder", "coords")].(map[string]any)
	return out["city"]
}

func TestExtendSkipsKnownInputs(t *testing.T) {
	f := newFixture(t)
	ext := types.Extension{RemoteService: "geocoder", Action: "coords", Active: true}
	ds := f.indexed(t, "adresses", ext, map[string]string{"1": "rue A", "2": "rue A", "3": "rue B"})

	got := f.run(t, ds)
	if got.Status != types.StatusExtended {
		t.Fatalf("status: want=%s got=%s", types.StatusExtended, got.Status)
	}
	sent := 0
	for _, r := range f.client.requests {
		sent += len(r)
	}
	if sent != 2 {
		t.Fatalf("distinct inputs sent: want=2 got=%d", sent)
	}
	for _, id := range []string{"1", "2"} {
		if city := f.city(t, "adresses", id); city != "v1:rue A" {
			t.Fatalf("doc %s city: want=%q got=%v", id, "v1:rue A", city)
		}
	}
	if got.Extensions[0].Progress != 1 || got.Extensions[0].Error != "" {
		t.Fatalf("extension record: unexpected %+v", got.Extensions[0])
	}

	// nothing changed, a second run must not call the service
	calls := f.client.calls
	got.Status = types.StatusIndexed
	f.run(t, got)
	if f.client.calls != calls {
		t.Fatalf("calls on unchanged inputs: want=%d got=%d", calls, f.client.calls)
	}
}

func TestForceNextOverwritesStoredOutputs(t *testing.T) {
	f := newFixture(t)
	ext := types.Extension{RemoteService: "geocoder", Action: "coords", Active: true}
	ds := f.indexed(t, "trois", ext, map[string]string{"1": "rue A", "2": "rue B", "3": "rue C"})
	ds = f.run(t, ds)

	f.client.prefix = "v2:"
	ds.Extensions[0].ForceNext = true
	ds.Status = types.StatusIndexed
	calls := f.client.calls
	got := f.run(t, ds)
	if f.client.calls == calls {
		t.Fatalf("forced run must call the service")
	}
	for _, id := range []string{"1", "2", "3"} {
		if city := f.city(t, "trois", id); city != "v2:rue "+map[string]string{"1": "A", "2": "B", "3": "C"}[id] {
			t.Fatalf("doc %s city: got %v", id, city)
		}
	}
	if got.Extensions[0].ForceNext {
		t.Fatalf("forceNext must be cleared after a successful run")
	}
	hash, err := extensions.Hash(map[string]any{"q": "rue B"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	stored, err := f.env.Results.GetByHashes(dbctx.With(context.Background()), "trois", ext.Key(), []string{hash})
	if err != nil {
		t.Fatalf("stored results: %v", err)
	}
	if r, ok := stored[hash]; !ok || r.Output["city"] != "v2:rue B" {
		t.Fatalf("stored output: want=%q got=%v", "v2:rue B", stored[hash])
	}
}

func TestRemoteFailureDoesNotFailStage(t *testing.T) {
	f := newFixture(t)
	f.client.err = errors.New("remote service error (status=503): busy")
	ext := types.Extension{RemoteService: "geocoder", Action: "coords", Active: true, ForceNext: true}
	ds := f.indexed(t, "panne", ext, map[string]string{"1": "rue A"})

	got := f.run(t, ds)
	if got.Status != types.StatusExtended {
		t.Fatalf("status: want=%s got=%s", types.StatusExtended, got.Status)
	}
	if got.Extensions[0].Error == "" || !got.Extensions[0].ForceNext {
		t.Fatalf("extension record: unexpected %+v", got.Extensions[0])
	}
	events := f.env.Events(t, "panne")
	found := false
	for _, e := range events {
		if e == types.EventExtendError {
			found = true
		}
	}
	if !found {
		t.Fatalf("journal: want %s in %v", types.EventExtendError, events)
	}
}

func TestUnknownServiceIsRecorded(t *testing.T) {
	f := newFixture(t)
	ext := types.Extension{RemoteService: "geocoder", Action: "coords", Active: true}
	ds := f.indexed(t, "orphan", ext, map[string]string{"1": "rue A"})
	ds.Extensions = datatypes.JSONSlice[types.Extension]{{RemoteService: "gone", Action: "x", Active: true}}

	got := f.run(t, ds)
	if got.Status != types.StatusExtended || got.Extensions[0].Error == "" {
		t.Fatalf("unexpected dataset: status=%s ext=%+v", got.Status, got.Extensions[0])
	}
	if f.client.calls != 0 {
		t.Fatalf("no call expected, got %d", f.client.calls)
	}
}

func TestVirtualPassesThrough(t *testing.T) {
	f := newFixture(t)
	ds := &types.Dataset{ID: "virt", IsVirtual: true, Status: types.StatusIndexed}
	got := f.run(t, ds)
	if got.Status != types.StatusExtended {
		t.Fatalf("status: want=%s got=%s", types.StatusExtended, got.Status)
	}
}
