// Package search talks to the document search engine holding the published dataset indices.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
)

// Engine is the subset of search engine operations the pipeline and query paths need.
type Engine interface {
	CreateIndex(ctx context.Context, index string, mapping map[string]any) error
	DeleteIndex(ctx context.Context, indices ...string) error
	// AliasTargets returns the physical indices behind alias, empty when it does not exist.
	AliasTargets(ctx context.Context, alias string) ([]string, error)
	// SwitchAlias atomically points alias at index only.
	SwitchAlias(ctx context.Context, alias, index string) error
	// PutMapping adds properties to an existing index. Incompatible changes fail with
	// ErrIncompatibleMapping.
	PutMapping(ctx context.Context, index string, mapping map[string]any) error
	Bulk(ctx context.Context, index string, ops []BulkOp) error
	Refresh(ctx context.Context, index string) error
	Search(ctx context.Context, index string, req Request) (*Result, error)
	Count(ctx context.Context, index string, query map[string]any) (int64, error)
	// Scan walks every document matching query in pages of size hits.
	Scan(ctx context.Context, index string, query map[string]any, size int) iter.Seq2[[]Hit, error]
}

type BulkAction string

const (
	BulkIndex  BulkAction = "index"
	BulkUpdate BulkAction = "update"
	BulkDelete BulkAction = "delete"
)

type BulkOp struct {
	Action BulkAction
	ID     string
	Doc    map[string]any
}

type Request struct {
	Query  map[string]any
	Size   int
	From   int
	Sort   []any
	Source []string
	Aggs   map[string]any
}

type Hit struct {
	ID     string
	Source map[string]any
}

type Result struct {
	Total        int64
	Hits         []Hit
	Aggregations map[string]json.RawMessage
}

var (
	ErrIndexNotFound       = errors.New("index not found")
	ErrIncompatibleMapping = errors.New("incompatible mapping")
)

// Error is an engine failure response.
type Error struct {
	Status int
	Type   string
	Reason string
}

func (e *Error) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("search engine error (%d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("search engine error (%d) %s: %s", e.Status, e.Type, e.Reason)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrIndexNotFound:
		return e.Type == "index_not_found_exception"
	case ErrIncompatibleMapping:
		return e.Type == "illegal_argument_exception" || e.Type == "mapper_parsing_exception"
	}
	return false
}

// IsTransient reports errors worth retrying later without flagging the dataset.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *Error
	if !errors.As(err, &se) {
		return true
	}
	if se.Status == http.StatusTooManyRequests || se.Status >= 500 {
		return true
	}
	return se.Type == "search_phase_execution_exception" || strings.Contains(se.Type, "timeout")
}

// IsPermanent reports errors that mean the published index is unusable.
func IsPermanent(err error) bool {
	if err == nil || IsTransient(err) {
		return false
	}
	return errors.Is(err, ErrIndexNotFound) || errors.Is(err, ErrIncompatibleMapping)
}

// ItemError is one failed operation of a bulk request.
type ItemError struct {
	ID     string
	Status int
	Type   string
	Reason string
}

// BulkError aggregates the failed items of a bulk request.
type BulkError struct {
	Items []ItemError
}

func (e *BulkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d documents rejected", len(e.Items))
	for i, it := range e.Items {
		if i == 5 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %s: %s", it.ID, it.Reason)
	}
	return b.String()
}

// IndexName names a new physical index for a rebuild.
func IndexName(alias string, suffix int64) string {
	return fmt.Sprintf("%s-%d", alias, suffix)
}
