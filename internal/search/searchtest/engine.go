// Package searchtest provides an in-memory search.Engine for tests.
package searchtest

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/yungbote/dataset-engine/internal/search"
)

type index struct {
	mapping map[string]any
	docs    map[string]map[string]any
}

// Engine keeps indices and aliases in memory. Queries support match_all, term, terms, ids,
// exists and bool filter/must/must_not.
type Engine struct {
	mu      sync.Mutex
	indices map[string]*index
	aliases map[string]string

	// BulkHook, when set, runs before each bulk and may reject it.
	BulkHook func(index string, ops []search.BulkOp) error
	// SearchErr, when set, is returned by Search and Count.
	SearchErr error

	BulkCalls int
}

var _ search.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{indices: map[string]*index{}, aliases: map[string]string{}}
}

func (e *Engine) resolve(name string) (*index, string, error) {
	if target, ok := e.aliases[name]; ok {
		name = target
	}
	idx, ok := e.indices[name]
	if !ok {
		return nil, "", &search.Error{Status: 404, Type: "index_not_found_exception", Reason: "no such index [" + name + "]"}
	}
	return idx, name, nil
}

func (e *Engine) CreateIndex(_ context.Context, name string, mapping map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indices[name]; ok {
		return &search.Error{Status: 400, Type: "resource_already_exists_exception", Reason: name}
	}
	e.indices[name] = &index{mapping: cloneMap(mapping), docs: map[string]map[string]any{}}
	return nil
}

func (e *Engine) DeleteIndex(_ context.Context, names ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range names {
		delete(e.indices, name)
		for alias, target := range e.aliases {
			if target == name {
				delete(e.aliases, alias)
			}
		}
	}
	return nil
}

func (e *Engine) AliasTargets(_ context.Context, alias string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if target, ok := e.aliases[alias]; ok {
		return []string{target}, nil
	}
	return nil, nil
}

func (e *Engine) SwitchAlias(_ context.Context, alias, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indices[name]; !ok {
		return &search.Error{Status: 404, Type: "index_not_found_exception", Reason: name}
	}
	e.aliases[alias] = name
	return nil
}

func (e *Engine) PutMapping(_ context.Context, name string, mapping map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, _, err := e.resolve(name)
	if err != nil {
		return err
	}
	current, _ := idx.mapping["properties"].(map[string]any)
	if current == nil {
		current = map[string]any{}
	}
	next, _ := mapping["properties"].(map[string]any)
	merged, err := mergeProperties(current, next)
	if err != nil {
		return err
	}
	idx.mapping["properties"] = merged
	return nil
}

func mergeProperties(current, next map[string]any) (map[string]any, error) {
	out := cloneMap(current)
	for key, raw := range next {
		prop, _ := raw.(map[string]any)
		old, exists := out[key].(map[string]any)
		if !exists {
			out[key] = prop
			continue
		}
		if old["type"] != prop["type"] {
			return nil, &search.Error{Status: 400, Type: "illegal_argument_exception",
				Reason: fmt.Sprintf("mapper [%s] cannot be changed from type [%v] to [%v]", key, old["type"], prop["type"])}
		}
		if sub, ok := prop["properties"].(map[string]any); ok {
			oldSub, _ := old["properties"].(map[string]any)
			if oldSub == nil {
				oldSub = map[string]any{}
			}
			merged, err := mergeProperties(oldSub, sub)
			if err != nil {
				return nil, err
			}
			old["properties"] = merged
		}
	}
	return out, nil
}

func (e *Engine) Bulk(_ context.Context, name string, ops []search.BulkOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.BulkCalls++
	if e.BulkHook != nil {
		if err := e.BulkHook(name, ops); err != nil {
			return err
		}
	}
	idx, _, err := e.resolve(name)
	if err != nil {
		return err
	}
	bulkErr := &search.BulkError{}
	for _, op := range ops {
		switch op.Action {
		case search.BulkIndex:
			idx.docs[op.ID] = cloneMap(op.Doc)
		case search.BulkUpdate:
			doc, ok := idx.docs[op.ID]
			if !ok {
				bulkErr.Items = append(bulkErr.Items, search.ItemError{ID: op.ID, Status: 404, Type: "document_missing_exception", Reason: "document missing"})
				continue
			}
			for k, v := range op.Doc {
				doc[k] = v
			}
		case search.BulkDelete:
			delete(idx.docs, op.ID)
		}
	}
	if len(bulkErr.Items) > 0 {
		return bulkErr
	}
	return nil
}

func (e *Engine) Refresh(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _, err := e.resolve(name)
	return err
}

func (e *Engine) Search(_ context.Context, name string, req search.Request) (*search.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.SearchErr != nil {
		return nil, e.SearchErr
	}
	idx, _, err := e.resolve(name)
	if err != nil {
		return nil, err
	}
	ids := matching(idx, req.Query)
	res := &search.Result{Total: int64(len(ids))}
	from := req.From
	if from > len(ids) {
		from = len(ids)
	}
	ids = ids[from:]
	if req.Size >= 0 && req.Size < len(ids) {
		ids = ids[:req.Size]
	}
	for _, id := range ids {
		res.Hits = append(res.Hits, search.Hit{ID: id, Source: cloneMap(idx.docs[id])})
	}
	return res, nil
}

func (e *Engine) Count(_ context.Context, name string, query map[string]any) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.SearchErr != nil {
		return 0, e.SearchErr
	}
	idx, _, err := e.resolve(name)
	if err != nil {
		return 0, err
	}
	return int64(len(matching(idx, query))), nil
}

func (e *Engine) Scan(_ context.Context, name string, query map[string]any, size int) iter.Seq2[[]search.Hit, error] {
	return func(yield func([]search.Hit, error) bool) {
		if size <= 0 {
			size = 1000
		}
		e.mu.Lock()
		idx, _, err := e.resolve(name)
		if err != nil {
			e.mu.Unlock()
			yield(nil, err)
			return
		}
		ids := matching(idx, query)
		hits := make([]search.Hit, 0, len(ids))
		for _, id := range ids {
			hits = append(hits, search.Hit{ID: id, Source: cloneMap(idx.docs[id])})
		}
		e.mu.Unlock()
		for start := 0; start < len(hits); start += size {
			end := min(start+size, len(hits))
			if !yield(hits[start:end], nil) {
				return
			}
		}
	}
}

// Doc returns a copy of a document, resolving aliases.
func (e *Engine) Doc(name, id string) (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, _, err := e.resolve(name)
	if err != nil {
		return nil, false
	}
	doc, ok := idx.docs[id]
	return cloneMap(doc), ok
}

// Indices lists physical index names with the given prefix.
func (e *Engine) Indices(prefix string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for name := range e.indices {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Mapping returns the current properties of an index or alias.
func (e *Engine) Mapping(name string) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, _, err := e.resolve(name)
	if err != nil {
		return nil
	}
	props, _ := idx.mapping["properties"].(map[string]any)
	return cloneMap(props)
}

func matching(idx *index, query map[string]any) []string {
	ids := make([]string, 0, len(idx.docs))
	for id, doc := range idx.docs {
		if match(id, doc, query) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func match(id string, doc map[string]any, query map[string]any) bool {
	if len(query) == 0 {
		return true
	}
	for kind, raw := range query {
		body, _ := raw.(map[string]any)
		switch kind {
		case "match_all":
		case "term":
			for field, want := range body {
				if v, ok := want.(map[string]any); ok {
					want = v["value"]
				}
				if !equal(lookup(doc, field), want) {
					return false
				}
			}
		case "terms":
			for field, values := range body {
				if !containsValue(values, lookup(doc, field)) {
					return false
				}
			}
		case "ids":
			if !containsValue(body["values"], id) {
				return false
			}
		case "exists":
			field, _ := body["field"].(string)
			if lookup(doc, field) == nil {
				return false
			}
		case "bool":
			for _, clause := range []string{"filter", "must"} {
				for _, sub := range clauses(body[clause]) {
					if !match(id, doc, sub) {
						return false
					}
				}
			}
			for _, sub := range clauses(body["must_not"]) {
				if match(id, doc, sub) {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func clauses(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func lookup(doc map[string]any, field string) any {
	if v, ok := doc[field]; ok {
		return v
	}
	parts := strings.Split(field, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func containsValue(values any, v any) bool {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(rv.Index(i).Interface(), v) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
