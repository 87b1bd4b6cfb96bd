package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yungbote/dataset-engine/internal/cache"
	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/search"
)

var errNotReadable = errors.New("dataset is not readable yet")

type LinesQuery struct {
	Q       string
	Filters map[string]string
	Sort    string
	Select  []string
	Page    int
	Size    int
}

type LinesResult struct {
	Total   int64            `json:"total"`
	Results []map[string]any `json:"results"`
}

type ValueBucket struct {
	Value any   `json:"value"`
	Count int64 `json:"count"`
}

// QueryService serves reads of the published index and guards them with the dataset status.
type QueryService interface {
	// Readable returns the dataset for an external reader, failing fast when not readable.
	Readable(ctx context.Context, id string) (*types.Dataset, error)
	// WaitReadable retries with exponential backoff until the dataset becomes readable.
	WaitReadable(ctx context.Context, id string) (*types.Dataset, error)
	Lines(ctx context.Context, ds *types.Dataset, q LinesQuery) (*LinesResult, error)
	Values(ctx context.Context, ds *types.Dataset, field string, size int) ([]ValueBucket, error)
}

type QueryConfig struct {
	IndexPrefix  string
	ReadAttempts uint
	ReadMaxWait  time.Duration
}

type queryService struct {
	log      *logger.Logger
	cfg      QueryConfig
	datasets datasets.DatasetRepo
	engine   search.Engine
	cache    *cache.Cache
	notifier Notifier
}

func NewQueryService(cfg QueryConfig, dsRepo datasets.DatasetRepo, engine search.Engine, c *cache.Cache, notifier Notifier, baseLog *logger.Logger) QueryService {
	if cfg.ReadAttempts == 0 {
		cfg.ReadAttempts = 10
	}
	if cfg.ReadMaxWait <= 0 {
		cfg.ReadMaxWait = 2 * time.Minute
	}
	return &queryService{
		log:      baseLog.With("service", "QueryService"),
		cfg:      cfg,
		datasets: dsRepo,
		engine:   engine,
		cache:    c,
		notifier: notifier,
	}
}

func (s *queryService) load(ctx context.Context, id string) (*types.Dataset, error) {
	ds, err := s.datasets.GetByID(dbctx.With(ctx), id)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, apierr.NotFound("dataset %s not found", id)
	}
	return ds, nil
}

func (s *queryService) Readable(ctx context.Context, id string) (*types.Dataset, error) {
	ds, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ds.Status.Readable() {
		return nil, apierr.Conflict("dataset %s is not readable yet (status %s)", id, ds.Status)
	}
	return ds, nil
}

func (s *queryService) WaitReadable(ctx context.Context, id string) (*types.Dataset, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return backoff.Retry(ctx, func() (*types.Dataset, error) {
		ds, err := s.load(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !ds.Status.Readable() {
			return nil, errNotReadable
		}
		return ds, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.ReadAttempts),
		backoff.WithMaxElapsedTime(s.cfg.ReadMaxWait),
	)
}

func (s *queryService) alias(ds *types.Dataset) string {
	return types.AliasName(s.cfg.IndexPrefix, ds.ID)
}

func (s *queryService) Lines(ctx context.Context, ds *types.Dataset, q LinesQuery) (*LinesResult, error) {
	if q.Size <= 0 {
		q.Size = 12
	}
	if q.Size > 10000 {
		return nil, apierr.Validation("size cannot exceed 10000")
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Page*q.Size > 10000 {
		return nil, apierr.Validation("only the first 10000 lines can be paginated")
	}
	req := search.Request{
		Query:  buildQuery(q),
		Size:   q.Size,
		From:   (q.Page - 1) * q.Size,
		Source: q.Select,
	}
	if q.Sort != "" {
		for _, key := range strings.Split(q.Sort, ",") {
			order := "asc"
			if strings.HasPrefix(key, "-") {
				key, order = key[1:], "desc"
			}
			req.Sort = append(req.Sort, map[string]any{key: map[string]any{"order": order}})
		}
	}
	res, err := s.engine.Search(ctx, s.alias(ds), req)
	if err != nil {
		return nil, s.engineError(ctx, ds, err)
	}
	out := &LinesResult{Total: res.Total, Results: make([]map[string]any, 0, len(res.Hits))}
	for _, h := range res.Hits {
		doc := h.Source
		if doc == nil {
			doc = map[string]any{}
		}
		doc[types.KeyID] = h.ID
		out.Results = append(out.Results, doc)
	}
	return out, nil
}

func buildQuery(q LinesQuery) map[string]any {
	var must, filter []any
	if strings.TrimSpace(q.Q) != "" {
		must = append(must, map[string]any{"simple_query_string": map[string]any{"query": q.Q}})
	}
	for field, value := range q.Filters {
		filter = append(filter, map[string]any{"term": map[string]any{field: value}})
	}
	if len(must) == 0 && len(filter) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	b := map[string]any{}
	if len(must) > 0 {
		b["must"] = must
	}
	if len(filter) > 0 {
		b["filter"] = filter
	}
	return map[string]any{"bool": b}
}

func (s *queryService) Values(ctx context.Context, ds *types.Dataset, field string, size int) ([]ValueBucket, error) {
	if _, ok := types.FindField(ds.SchemaFields(), field); !ok {
		return nil, apierr.Validation("unknown field %s", field)
	}
	if size <= 0 {
		size = 10
	}
	var key string
	if ds.FinalizedAt != nil {
		k, err := cache.Key(ds.ID, *ds.FinalizedAt, map[string]any{"agg": "values", "field": field, "size": size})
		if err == nil {
			key = k
			if raw, ok := s.cache.Get(ctx, key); ok {
				var cached []ValueBucket
				if json.Unmarshal(raw, &cached) == nil {
					return cached, nil
				}
			}
		}
	}
	res, err := s.engine.Search(ctx, s.alias(ds), search.Request{
		Size: 0,
		Aggs: map[string]any{"values": map[string]any{"terms": map[string]any{"field": field, "size": size}}},
	})
	if err != nil {
		return nil, s.engineError(ctx, ds, err)
	}
	buckets := []ValueBucket{}
	if raw, ok := res.Aggregations["values"]; ok {
		var agg struct {
			Buckets []struct {
				Key      any   `json:"key"`
				DocCount int64 `json:"doc_count"`
			} `json:"buckets"`
		}
		if err := json.Unmarshal(raw, &agg); err != nil {
			return nil, fmt.Errorf("decode values aggregation: %w", err)
		}
		for _, b := range agg.Buckets {
			buckets = append(buckets, ValueBucket{Value: b.Key, Count: b.DocCount})
		}
	}
	if key != "" {
		if raw, err := json.Marshal(buckets); err == nil {
			s.cache.SetAsync(key, raw)
		}
	}
	return buckets, nil
}

// engineError flips a published dataset to error when its index is unusable. Transient
// failures leave the status alone.
func (s *queryService) engineError(ctx context.Context, ds *types.Dataset, err error) error {
	if !search.IsPermanent(err) || ds.Status != types.StatusFinalized {
		return apierr.Upstream(err)
	}
	msg := err.Error()
	ok, uerr := s.datasets.UpdateFieldsIfStatus(dbctx.With(ctx), ds.ID, []types.Status{types.StatusFinalized}, map[string]interface{}{
		"status":        types.StatusError,
		"error_message": msg,
	})
	if uerr != nil {
		s.log.Warn("flag dataset error failed", "dataset_id", ds.ID, "error", uerr)
	} else if ok {
		ds.Status = types.StatusError
		if jerr := s.notifier.Journal(ctx, ds.ID, types.EventError, msg, nil); jerr != nil {
			s.log.Warn("journal append failed", "dataset_id", ds.ID, "error", jerr)
		}
	}
	return apierr.Upstream(err)
}
