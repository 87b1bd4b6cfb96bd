package indexer

import (
	"context"
	"fmt"
	"iter"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/extensions"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/rowsource"
	"github.com/yungbote/dataset-engine/internal/schema"
	"github.com/yungbote/dataset-engine/internal/search"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	ds := jc.Dataset
	if ds.IsVirtual {
		return jc.Commit(types.StatusIndexed, nil)
	}
	alias := types.AliasName(p.cfg.IndexPrefix, ds.ID)
	if ds.IsRest && ds.ClaimedFrom == types.StatusUpdated {
		targets, err := p.engine.AliasTargets(jc.Ctx, alias)
		if err != nil {
			return fmt.Errorf("resolve alias: %w", err)
		}
		if len(targets) > 0 {
			return p.incremental(jc, alias)
		}
		jc.Log.Warn("no live index for incremental build, rebuilding", "alias", alias)
	}
	return p.full(jc, alias)
}

func (p *Pipeline) bindings(jc *jobrt.Context) ([]extensions.Binding, error) {
	if len(jc.Dataset.Extensions) == 0 {
		return nil, nil
	}
	catalog, err := p.catalog.All(jc.Ctx)
	if err != nil {
		return nil, fmt.Errorf("load remote services: %w", err)
	}
	bound, _ := extensions.Bind(jc.Dataset.Extensions, jc.Dataset.SchemaFields(), catalog)
	return bound, nil
}

// batch collects bulk operations and the documents extension outputs are carried onto.
type batch struct {
	ops   []search.BulkOp
	docs  []map[string]any
	marks []rows.Mark
}

func (b *batch) reset() {
	b.ops, b.docs, b.marks = b.ops[:0], b.docs[:0], b.marks[:0]
}

func (b *batch) index(id string, doc map[string]any) {
	b.ops = append(b.ops, search.BulkOp{Action: search.BulkIndex, ID: id, Doc: doc})
	b.docs = append(b.docs, doc)
}

func (p *Pipeline) write(ctx context.Context, index, datasetID string, bound []extensions.Binding, b *batch) error {
	if len(b.ops) == 0 {
		return nil
	}
	if len(bound) > 0 && len(b.docs) > 0 {
		if _, err := extensions.Carry(ctx, p.results, datasetID, bound, b.docs); err != nil {
			return fmt.Errorf("carry extension outputs: %w", err)
		}
	}
	return p.engine.Bulk(ctx, index, b.ops)
}

// source streams raw rows with their id, line number and REST version.
type sourceRow struct {
	raw  map[string]any
	row  *types.Row
	line int64
}

func (p *Pipeline) source(jc *jobrt.Context) iter.Seq2[sourceRow, error] {
	ds := jc.Dataset
	return func(yield func(sourceRow, error) bool) {
		if ds.IsRest {
			for r, err := range p.rows.ReadStream(jc.Ctx, ds.ID, false) {
				if !yield(sourceRow{row: r}, err) || err != nil {
					return
				}
			}
			return
		}
		var line int64
		for raw, err := range rowsource.Read(jc.Ctx, p.bucket, ds) {
			if err == nil {
				line++
			}
			if !yield(sourceRow{raw: raw, line: line}, err) || err != nil {
				return
			}
		}
	}
}

func (p *Pipeline) full(jc *jobrt.Context, alias string) error {
	ds := jc.Dataset
	fields := ds.SchemaFields()
	index := search.IndexName(alias, time.Now().UnixNano())
	if err := p.engine.CreateIndex(jc.Ctx, index, schema.Mapping(fields)); err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	swapped := false
	defer func() {
		if swapped {
			return
		}
		if derr := p.engine.DeleteIndex(context.WithoutCancel(jc.Ctx), index); derr != nil {
			jc.Log.Warn("delete unused index failed", "index", index, "error", derr)
		}
	}()

	bound, err := p.bindings(jc)
	if err != nil {
		return err
	}
	build := newBuilder(fields)
	b := &batch{}
	var marks []rows.Mark
	var count int64
	var docErrs []search.ItemError
	for src, err := range p.source(jc) {
		if err != nil {
			return err
		}
		var (
			id  string
			doc map[string]any
			derr error
		)
		if src.row != nil {
			marks = append(marks, rows.Mark{ID: src.row.ID, UpdatedAt: src.row.UpdatedAt})
			if src.row.Deleted {
				continue
			}
			id = src.row.ID
			doc, derr = build.restDocument(src.row)
		} else {
			id = LineID(ds.ID, src.line)
			doc, derr = build.document(src.raw, id, src.line, "")
		}
		if derr != nil {
			docErrs = append(docErrs, search.ItemError{ID: id, Reason: derr.Error()})
			continue
		}
		b.index(id, doc)
		count++
		if len(b.ops) >= p.cfg.BatchSize {
			if err := p.write(jc.Ctx, index, ds.ID, bound, b); err != nil {
				return fmt.Errorf("index documents: %w", err)
			}
			b.reset()
		}
	}
	if len(docErrs) > 0 {
		return fmt.Errorf("index documents: %w", &search.BulkError{Items: docErrs})
	}
	if err := p.write(jc.Ctx, index, ds.ID, bound, b); err != nil {
		return fmt.Errorf("index documents: %w", err)
	}
	if err := p.engine.Refresh(jc.Ctx, index); err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}

	previous, err := p.engine.AliasTargets(jc.Ctx, alias)
	if err != nil {
		return fmt.Errorf("resolve alias: %w", err)
	}
	if err := p.engine.SwitchAlias(jc.Ctx, alias, index); err != nil {
		return fmt.Errorf("switch alias: %w", err)
	}
	swapped = true
	var stale []string
	for _, old := range previous {
		if old != index {
			stale = append(stale, old)
		}
	}
	if len(stale) > 0 {
		if err := p.engine.DeleteIndex(jc.Ctx, stale...); err != nil {
			jc.Log.Warn("delete previous indices failed", "indices", stale, "error", err)
		}
	}
	if err := p.markIndexed(jc, marks); err != nil {
		return err
	}
	jc.Log.Info("index built", "index", index, "count", count)
	return jc.Commit(types.StatusIndexed, map[string]interface{}{
		"count": count,
		"bbox":  datatypes.JSONSlice[float64](build.bbox.Values()),
	})
}

func (p *Pipeline) markIndexed(jc *jobrt.Context, marks []rows.Mark) error {
	for start := 0; start < len(marks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(marks))
		if _, err := p.rows.MarkIndexed(jc.Ctx, jc.Dataset.ID, marks[start:end]); err != nil {
			return fmt.Errorf("mark rows indexed: %w", err)
		}
	}
	return nil
}

// incremental writes dirty rows into the live index. Rows are marked after each accepted
// batch, so a failure leaves the remaining rows dirty for the next run.
func (p *Pipeline) incremental(jc *jobrt.Context, alias string) error {
	ds := jc.Dataset
	build := newBuilder(ds.SchemaFields())
	if prev := []float64(ds.BBox); len(prev) == 4 {
		build.bbox.Add(boundOf(prev))
	}
	bound, err := p.bindings(jc)
	if err != nil {
		return err
	}
	b := &batch{}
	written := 0
	flush := func() error {
		if err := p.write(jc.Ctx, alias, ds.ID, bound, b); err != nil {
			return fmt.Errorf("index documents: %w", err)
		}
		if err := p.markIndexed(jc, b.marks); err != nil {
			return err
		}
		written += len(b.ops)
		b.reset()
		return nil
	}
	for r, err := range p.rows.ReadStream(jc.Ctx, ds.ID, true) {
		if err != nil {
			return err
		}
		b.marks = append(b.marks, rows.Mark{ID: r.ID, UpdatedAt: r.UpdatedAt})
		if r.Deleted {
			b.ops = append(b.ops, search.BulkOp{Action: search.BulkDelete, ID: r.ID})
		} else {
			doc, err := build.restDocument(r)
			if err != nil {
				return fmt.Errorf("index documents: %w", err)
			}
			b.index(r.ID, doc)
		}
		if len(b.ops) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := p.engine.Refresh(jc.Ctx, alias); err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	count, err := p.engine.Count(jc.Ctx, alias, nil)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	jc.Log.Info("dirty rows indexed", "rows", written, "count", count)
	return jc.Commit(types.StatusIndexed, map[string]interface{}{
		"count": count,
		"bbox":  datatypes.JSONSlice[float64](build.bbox.Values()),
	})
}
