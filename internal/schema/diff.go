package schema

import (
	"sort"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
)

// Change summarizes how a schema edit affects the pipeline.
type Change struct {
	// Analysis is set when parsing inputs changed (separators, detection flags).
	Analysis bool
	// Derivation is set when concepts driving calculated fields changed.
	Derivation bool
	// Removed is set when a base field disappeared.
	Removed bool
	// Mapping is set when the index definition differs.
	Mapping bool
	// Cosmetic is set when only labels changed.
	Cosmetic bool
}

// Compare classifies the difference between two base schemas. Calculated and extension
// fields are ignored on both sides.
func Compare(before, after []datasets.Field) Change {
	before, after = Strip(before), Strip(after)
	var c Change
	for _, b := range before {
		a, ok := datasets.FindField(after, b.Key)
		if !ok {
			c.Removed = true
			continue
		}
		if a.Separator != b.Separator || a.IgnoreDetection != b.IgnoreDetection {
			c.Analysis = true
		}
		if a.Title != b.Title || a.Description != b.Description {
			c.Cosmetic = true
		}
	}
	if derivationKey(before) != derivationKey(after) {
		c.Derivation = true
	}
	if !SameMapping(before, after) {
		c.Mapping = true
	}
	return c
}

func derivationKey(fields []datasets.Field) string {
	keys := []string{}
	for _, f := range fields {
		if f.RefersTo == "" {
			continue
		}
		for _, concept := range append([]string{datasets.ConceptDocument}, datasets.GeoConcepts...) {
			if f.RefersTo == concept {
				keys = append(keys, concept+"="+f.Key)
			}
		}
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += k + ";"
	}
	return out
}
