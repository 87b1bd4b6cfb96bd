package extender

import (
	"fmt"
	"reflect"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/datatypes"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/extensions"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/search"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	ds := jc.Dataset
	if ds.IsVirtual || len(ds.Extensions) == 0 {
		return jc.Commit(types.StatusExtended, nil)
	}
	catalog, err := p.catalog.All(jc.Ctx)
	if err != nil {
		return fmt.Errorf("load remote services: %w", err)
	}
	bound, failed := extensions.Bind(ds.Extensions, ds.SchemaFields(), catalog)
	byKey := make(map[string]extensions.Binding, len(bound))
	for _, b := range bound {
		byKey[b.Mapper.Key] = b
	}

	alias := types.AliasName(p.cfg.IndexPrefix, ds.ID)
	exts := append([]types.Extension(nil), ds.Extensions...)
	for i := range exts {
		ext := &exts[i]
		if !ext.Active {
			continue
		}
		key := ext.Key()
		if err, ok := failed[key]; ok {
			p.record(jc, exts, ext, err)
			continue
		}
		b := byKey[key]
		jc.Journal(types.EventExtendStart, key, map[string]any{"extension": key, "force": ext.ForceNext})
		runErr := p.extend(jc, alias, b, ext, exts)
		p.metrics.ExtensionCall(ext.RemoteService, runErr)
		if runErr != nil {
			p.record(jc, exts, ext, runErr)
			continue
		}
		ext.Error = ""
		ext.ForceNext = false
		ext.Progress = 1
		jc.Journal(types.EventExtendEnd, key, map[string]any{"extension": key})
		if err := jc.Update(map[string]interface{}{"extensions": datatypes.JSONSlice[types.Extension](exts)}); err != nil {
			return err
		}
	}
	return jc.Commit(types.StatusExtended, map[string]interface{}{
		"extensions": datatypes.JSONSlice[types.Extension](exts),
	})
}

// record stores an extension failure on the extension itself. The stage goes on.
func (p *Pipeline) record(jc *jobrt.Context, exts []types.Extension, ext *types.Extension, cause error) {
	ext.Error = cause.Error()
	jc.Log.Warn("extension failed", "extension", ext.Key(), "error", cause)
	jc.Journal(types.EventExtendError, cause.Error(), map[string]any{"extension": ext.Key()})
	if err := jc.Update(map[string]interface{}{"extensions": datatypes.JSONSlice[types.Extension](exts)}); err != nil {
		jc.Log.Warn("persist extension error failed", "extension", ext.Key(), "error", err)
	}
}

type pending struct {
	id   string
	hash string
}

func (p *Pipeline) extend(jc *jobrt.Context, alias string, b extensions.Binding, ext *types.Extension, exts []types.Extension) error {
	ds := jc.Dataset
	total, err := p.engine.Count(jc.Ctx, alias, nil)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	progress := rate.Sometimes{Interval: p.cfg.ProgressEvery}
	var processed int64
	for hits, err := range p.engine.Scan(jc.Ctx, alias, nil, p.cfg.BatchSize) {
		if err != nil {
			return fmt.Errorf("read documents: %w", err)
		}
		if err := p.extendBatch(jc, alias, b, ext.ForceNext, hits); err != nil {
			return err
		}
		processed += int64(len(hits))
		progress.Do(func() {
			if total > 0 {
				ext.Progress = float64(processed) / float64(total)
			}
			if err := jc.Update(map[string]interface{}{"extensions": datatypes.JSONSlice[types.Extension](exts)}); err != nil {
				jc.Log.Warn("persist extension progress failed", "error", err)
			}
			jc.Notify.ExtensionProgress(ds.ID, *ext)
		})
	}
	if err := p.engine.Refresh(jc.Ctx, alias); err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	return nil
}

func (p *Pipeline) extendBatch(jc *jobrt.Context, alias string, b extensions.Binding, force bool, hits []search.Hit) error {
	ds := jc.Dataset
	key := b.Mapper.Key
	inputs := make(map[string]map[string]any, len(hits))
	hashOf := make(map[string]string, len(hits))
	hashes := make([]string, 0, len(hits))
	for _, h := range hits {
		in, hash, err := b.Mapper.Input(h.Source)
		if err != nil {
			return err
		}
		if _, seen := inputs[hash]; !seen {
			inputs[hash] = in
			hashes = append(hashes, hash)
		}
		hashOf[h.ID] = hash
	}

	outputs := map[string]map[string]any{}
	if !force {
		stored, err := p.results.GetByHashes(dbctx.With(jc.Ctx), ds.ID, key, hashes)
		if err != nil {
			return fmt.Errorf("load stored results: %w", err)
		}
		for hash, r := range stored {
			if r.Error == "" {
				outputs[hash] = b.Mapper.Selected(r.Output)
			}
		}
	}

	// one request per distinct input, identified by the first row carrying it
	var requests []map[string]any
	var asked []pending
	for _, h := range hits {
		hash := hashOf[h.ID]
		if _, done := outputs[hash]; done {
			continue
		}
		if _, queued := inputs[hash]; !queued {
			continue
		}
		requests = append(requests, b.Mapper.Request(h.ID, inputs[hash]))
		asked = append(asked, pending{id: h.ID, hash: hash})
		delete(inputs, hash)
	}
	if len(requests) > 0 {
		lines, err := p.client.Call(jc.Ctx, b.Service, b.Mapper.Action, ds.Owner(), requests)
		if err != nil {
			return err
		}
		hashByID := make(map[string]string, len(asked))
		for _, a := range asked {
			hashByID[a.id] = a.hash
		}
		now := time.Now().UTC()
		var fresh []*types.ExtensionResult
		for _, line := range lines {
			id, out, errMsg := b.Mapper.Output(line)
			hash, ok := hashByID[id]
			if !ok {
				continue
			}
			fresh = append(fresh, &types.ExtensionResult{
				DatasetID:    ds.ID,
				ExtensionKey: key,
				InputHash:    hash,
				Output:       datatypes.JSONMap(out),
				Error:        errMsg,
				UpdatedAt:    now,
			})
			if errMsg == "" {
				outputs[hash] = out
			}
		}
		if err := p.results.Upsert(dbctx.With(jc.Ctx), fresh); err != nil {
			return fmt.Errorf("store results: %w", err)
		}
	}

	var ops []search.BulkOp
	for _, h := range hits {
		out, ok := outputs[hashOf[h.ID]]
		if !ok {
			continue
		}
		if current, _ := h.Source[key].(map[string]any); reflect.DeepEqual(current, out) {
			continue
		}
		ops = append(ops, search.BulkOp{Action: search.BulkUpdate, ID: h.ID, Doc: map[string]any{key: out}})
	}
	if len(ops) == 0 {
		return nil
	}
	if err := p.engine.Bulk(jc.Ctx, alias, ops); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	return nil
}
