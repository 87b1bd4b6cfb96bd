package finalizer

import (
	"fmt"
	"time"

	"gorm.io/datatypes"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/schema"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	ds := jc.Dataset
	updates := map[string]interface{}{}

	var count int64
	if ds.IsVirtual {
		children, err := p.children(jc, ds)
		if err != nil {
			return err
		}
		schemas := make([][]types.Field, 0, len(children))
		for _, c := range children {
			count += c.Count
			schemas = append(schemas, c.SchemaFields())
		}
		updates["schema"] = datatypes.JSONSlice[types.Field](schema.Common(schemas))
	} else {
		n, err := p.engine.Count(jc.Ctx, types.AliasName(p.cfg.IndexPrefix, ds.ID), nil)
		if err != nil {
			return fmt.Errorf("count documents: %w", err)
		}
		count = n
	}
	updates["count"] = count

	info, err := p.storage.Refresh(jc.Ctx, ds.ID)
	if err != nil {
		return fmt.Errorf("refresh storage: %w", err)
	}

	next := types.StatusFinalized
	if ds.IsRest {
		dirty, err := p.rows.CountDirty(dbctx.With(jc.Ctx), ds.ID)
		if err != nil {
			return fmt.Errorf("count dirty rows: %w", err)
		}
		// writes landed while the pipeline ran
		if dirty > 0 {
			next = types.StatusUpdated
		}
	}
	now := time.Now().UTC()
	updates["finalized_at"] = &now
	if err := jc.Commit(next, updates); err != nil {
		return err
	}
	if ds.IsRest && next == types.StatusFinalized {
		next = p.recheckDirty(jc, ds.ID)
	}
	jc.Journal(types.EventFinalizeEnd, "", map[string]any{"count": count, "size": info.Size})
	jc.Log.Info("dataset finalized", "count", count, "next", next)
	return nil
}

// recheckDirty catches writes that landed between the dirty count and the commit. Those
// writes saw finalizing and did not flip the status themselves.
func (p *Pipeline) recheckDirty(jc *jobrt.Context, datasetID string) types.Status {
	dirty, err := p.rows.CountDirty(dbctx.With(jc.Ctx), datasetID)
	if err != nil {
		jc.Log.Warn("recount dirty rows failed", "error", err)
		return types.StatusFinalized
	}
	if dirty == 0 {
		return types.StatusFinalized
	}
	ok, err := p.datasets.UpdateFieldsIfStatus(dbctx.With(jc.Ctx), datasetID, []types.Status{types.StatusFinalized}, map[string]interface{}{
		"status": types.StatusUpdated,
	})
	if err != nil {
		jc.Log.Warn("mark dataset updated failed", "error", err)
		return types.StatusFinalized
	}
	if !ok {
		return types.StatusFinalized
	}
	return types.StatusUpdated
}

func (p *Pipeline) children(jc *jobrt.Context, ds *types.Dataset) ([]*types.Dataset, error) {
	ids := ds.VirtualOptions().Children
	out := make([]*types.Dataset, 0, len(ids))
	for _, id := range ids {
		c, err := p.datasets.GetByID(dbctx.With(jc.Ctx), id)
		if err != nil {
			return nil, fmt.Errorf("load child %s: %w", id, err)
		}
		if c == nil {
			jc.Log.Warn("virtual child missing", "child", id)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
