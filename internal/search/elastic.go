package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Shards    int
	Replicas  int
}

type elasticEngine struct {
	es  *elasticsearch.Client
	cfg ElasticConfig
	log *logger.Logger
}

func NewElastic(cfg ElasticConfig, baseLog *logger.Logger) (Engine, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	return &elasticEngine{es: es, cfg: cfg, log: baseLog.With("component", "SearchEngine")}, nil
}

func (e *elasticEngine) CreateIndex(ctx context.Context, index string, mapping map[string]any) error {
	body, err := jsonBody(map[string]any{
		"settings": map[string]any{
			"number_of_shards":   e.cfg.Shards,
			"number_of_replicas": e.cfg.Replicas,
		},
		"mappings": mapping,
	})
	if err != nil {
		return err
	}
	res, err := e.es.Indices.Create(index, e.es.Indices.Create.WithBody(body), e.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return err
	}
	return drain(res, nil)
}

func (e *elasticEngine) DeleteIndex(ctx context.Context, indices ...string) error {
	if len(indices) == 0 {
		return nil
	}
	res, err := e.es.Indices.Delete(indices,
		e.es.Indices.Delete.WithIgnoreUnavailable(true),
		e.es.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	return drain(res, nil)
}

func (e *elasticEngine) AliasTargets(ctx context.Context, alias string) ([]string, error) {
	res, err := e.es.Indices.GetAlias(e.es.Indices.GetAlias.WithName(alias), e.es.Indices.GetAlias.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound {
		_ = drain(res, nil)
		return nil, nil
	}
	var out map[string]json.RawMessage
	if err := drain(res, &out); err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(out))
	for index := range out {
		targets = append(targets, index)
	}
	return targets, nil
}

func (e *elasticEngine) SwitchAlias(ctx context.Context, alias, index string) error {
	current, err := e.AliasTargets(ctx, alias)
	if err != nil {
		return err
	}
	actions := make([]map[string]any, 0, len(current)+1)
	for _, old := range current {
		if old == index {
			continue
		}
		actions = append(actions, map[string]any{"remove": map[string]any{"index": old, "alias": alias}})
	}
	actions = append(actions, map[string]any{"add": map[string]any{"index": index, "alias": alias}})
	body, err := jsonBody(map[string]any{"actions": actions})
	if err != nil {
		return err
	}
	res, err := e.es.Indices.UpdateAliases(body, e.es.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return err
	}
	return drain(res, nil)
}

func (e *elasticEngine) PutMapping(ctx context.Context, index string, mapping map[string]any) error {
	body, err := jsonBody(mapping)
	if err != nil {
		return err
	}
	res, err := e.es.Indices.PutMapping([]string{index}, body, e.es.Indices.PutMapping.WithContext(ctx))
	if err != nil {
		return err
	}
	return drain(res, nil)
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func (e *elasticEngine) Bulk(ctx context.Context, index string, ops []BulkOp) error {
	if len(ops) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		if err := enc.Encode(map[string]any{string(op.Action): map[string]any{"_id": op.ID}}); err != nil {
			return err
		}
		switch op.Action {
		case BulkIndex:
			if err := enc.Encode(op.Doc); err != nil {
				return fmt.Errorf("encode document %s: %w", op.ID, err)
			}
		case BulkUpdate:
			if err := enc.Encode(map[string]any{"doc": op.Doc}); err != nil {
				return fmt.Errorf("encode document %s: %w", op.ID, err)
			}
		case BulkDelete:
		default:
			return fmt.Errorf("unknown bulk action %q", op.Action)
		}
	}
	res, err := e.es.Bulk(&buf, e.es.Bulk.WithIndex(index), e.es.Bulk.WithContext(ctx))
	if err != nil {
		return err
	}
	var out bulkResponse
	if err := drain(res, &out); err != nil {
		return err
	}
	if !out.Errors {
		return nil
	}
	bulkErr := &BulkError{}
	for _, item := range out.Items {
		for action, it := range item {
			if it.Error == nil {
				continue
			}
			// deleting a missing document is not a failure
			if action == string(BulkDelete) && it.Status == http.StatusNotFound {
				continue
			}
			bulkErr.Items = append(bulkErr.Items, ItemError{ID: it.ID, Status: it.Status, Type: it.Error.Type, Reason: it.Error.Reason})
		}
	}
	if len(bulkErr.Items) == 0 {
		return nil
	}
	return bulkErr
}

func (e *elasticEngine) Refresh(ctx context.Context, index string) error {
	res, err := e.es.Indices.Refresh(e.es.Indices.Refresh.WithIndex(index), e.es.Indices.Refresh.WithContext(ctx))
	if err != nil {
		return err
	}
	return drain(res, nil)
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string         `json:"_id"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

func (e *elasticEngine) Search(ctx context.Context, index string, req Request) (*Result, error) {
	q := map[string]any{"track_total_hits": true, "size": req.Size, "from": req.From}
	if req.Query != nil {
		q["query"] = req.Query
	}
	if len(req.Sort) > 0 {
		q["sort"] = req.Sort
	}
	if req.Source != nil {
		q["_source"] = req.Source
	}
	if len(req.Aggs) > 0 {
		q["aggs"] = req.Aggs
	}
	body, err := jsonBody(q)
	if err != nil {
		return nil, err
	}
	res, err := e.es.Search(
		e.es.Search.WithIndex(index),
		e.es.Search.WithBody(body),
		e.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	var out searchResponse
	if err := drain(res, &out); err != nil {
		return nil, err
	}
	result := &Result{Total: out.Hits.Total.Value, Aggregations: out.Aggregations}
	for _, h := range out.Hits.Hits {
		result.Hits = append(result.Hits, Hit{ID: h.ID, Source: h.Source})
	}
	return result, nil
}

func (e *elasticEngine) Count(ctx context.Context, index string, query map[string]any) (int64, error) {
	opts := []func(*esapi.CountRequest){e.es.Count.WithIndex(index), e.es.Count.WithContext(ctx)}
	if query != nil {
		body, err := jsonBody(map[string]any{"query": query})
		if err != nil {
			return 0, err
		}
		opts = append(opts, e.es.Count.WithBody(body))
	}
	res, err := e.es.Count(opts...)
	if err != nil {
		return 0, err
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := drain(res, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	searchResponse
}

func (e *elasticEngine) Scan(ctx context.Context, index string, query map[string]any, size int) iter.Seq2[[]Hit, error] {
	return func(yield func([]Hit, error) bool) {
		if size <= 0 {
			size = 1000
		}
		if query == nil {
			query = map[string]any{"match_all": map[string]any{}}
		}
		body, err := jsonBody(map[string]any{"query": query, "sort": []string{"_doc"}})
		if err != nil {
			yield(nil, err)
			return
		}
		res, err := e.es.Search(
			e.es.Search.WithIndex(index),
			e.es.Search.WithBody(body),
			e.es.Search.WithSize(size),
			e.es.Search.WithScroll(2*time.Minute),
			e.es.Search.WithContext(ctx),
		)
		if err != nil {
			yield(nil, err)
			return
		}
		var page scrollResponse
		if err := drain(res, &page); err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			if page.ScrollID == "" {
				return
			}
			cres, err := e.es.ClearScroll(e.es.ClearScroll.WithScrollID(page.ScrollID))
			if err != nil {
				e.log.Warn("clear scroll failed", "error", err)
				return
			}
			_ = drain(cres, nil)
		}()
		for len(page.Hits.Hits) > 0 {
			hits := make([]Hit, 0, len(page.Hits.Hits))
			for _, h := range page.Hits.Hits {
				hits = append(hits, Hit{ID: h.ID, Source: h.Source})
			}
			if !yield(hits, nil) {
				return
			}
			res, err := e.es.Scroll(
				e.es.Scroll.WithScrollID(page.ScrollID),
				e.es.Scroll.WithScroll(2*time.Minute),
				e.es.Scroll.WithContext(ctx),
			)
			if err != nil {
				yield(nil, err)
				return
			}
			var next scrollResponse
			if err := drain(res, &next); err != nil {
				yield(nil, err)
				return
			}
			page = next
		}
	}
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// drain closes the response, decoding it into out on success and into *Error otherwise.
func drain(res *esapi.Response, out any) error {
	defer res.Body.Close()
	if res.IsError() {
		return decodeError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search engine response: %w", err)
	}
	return nil
}

func decodeError(res *esapi.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	se := &Error{Status: res.StatusCode}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Error) > 0 {
		var detail struct {
			Type      string `json:"type"`
			Reason    string `json:"reason"`
			RootCause []struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"root_cause"`
		}
		if json.Unmarshal(env.Error, &detail) == nil {
			se.Type, se.Reason = detail.Type, detail.Reason
			if se.Type == "search_phase_execution_exception" && len(detail.RootCause) > 0 {
				// shard failures carry the real cause
				if rc := detail.RootCause[0]; rc.Type == "index_not_found_exception" {
					se.Type, se.Reason = rc.Type, rc.Reason
				}
			}
		} else {
			se.Reason = strings.Trim(string(env.Error), `"`)
		}
	}
	if se.Reason == "" {
		se.Reason = strings.TrimSpace(string(raw))
	}
	return se
}
