package extensions

import (
	"context"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
)

// Carry writes stored outputs onto documents whose input hash already has a successful
// result, so a rebuilt index keeps its enrichment before the extender runs. It returns how
// many documents were filled.
func Carry(ctx context.Context, results datasets.ExtensionResultRepo, datasetID string, bindings []Binding, docs []map[string]any) (int, error) {
	filled := 0
	for _, b := range bindings {
		hashes := make([]string, len(docs))
		wanted := make([]string, 0, len(docs))
		for i, doc := range docs {
			_, h, err := b.Mapper.Input(doc)
			if err != nil {
				return filled, err
			}
			hashes[i] = h
			wanted = append(wanted, h)
		}
		stored, err := results.GetByHashes(dbctx.With(ctx), datasetID, b.Mapper.Key, wanted)
		if err != nil {
			return filled, err
		}
		for i, doc := range docs {
			r, ok := stored[hashes[i]]
			if !ok || r.Error != "" {
				continue
			}
			doc[b.Mapper.Key] = b.Mapper.Selected(r.Output)
			filled++
		}
	}
	return filled, nil
}
