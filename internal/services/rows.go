package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	"github.com/yungbote/dataset-engine/internal/data/repos/rows"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/schema"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionPatch  Action = "patch"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionPatch, ActionDelete:
		return true
	}
	return false
}

const (
	// BulkThreshold is the batch size above which history-less writes use one bulk upsert.
	BulkThreshold = 100
	// FlushSize is the number of transactions applied per flush of a streamed bulk.
	FlushSize = 1000
	// maxSummaryErrors caps the errors reported in a Summary.
	maxSummaryErrors = 10
)

// Transaction is one row mutation.
type Transaction struct {
	Action Action         `json:"_action"`
	ID     string         `json:"_id"`
	Body   map[string]any `json:"body,omitempty"`

	idErr string
}

// NewTransaction reads the _action and _id keys of a raw object. Without an action, a body
// carrying an id updates and one without creates.
func NewTransaction(raw map[string]any) Transaction {
	tx := Transaction{Body: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "_action":
			s, _ := v.(string)
			tx.Action = Action(s)
		case types.KeyID:
			tx.ID, tx.idErr = rowID(v)
		default:
			tx.Body[k] = v
		}
	}
	if tx.Action == "" {
		if tx.ID != "" || tx.idErr != "" {
			tx.Action = ActionUpdate
		} else {
			tx.Action = ActionCreate
		}
	}
	return tx
}

// rowID accepts strings and integral numbers. A null id is treated as absent.
func rowID(v any) (string, string) {
	switch id := v.(type) {
	case nil:
		return "", ""
	case string:
		return id, ""
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			return strconv.FormatFloat(id, 'f', -1, 64), ""
		}
	case json.Number:
		if _, err := id.Int64(); err == nil {
			return id.String(), ""
		}
	}
	return "", fmt.Sprintf(`"_id" must be a string or an integer, got %v`, v)
}

// TxResult is the outcome of one transaction. Line is the stored row document on success.
type TxResult struct {
	ID     string         `json:"_id"`
	Action Action         `json:"_action"`
	Status int            `json:"_status"`
	Error  string         `json:"_error,omitempty"`
	Line   map[string]any `json:"-"`
}

func (r TxResult) OK() bool { return r.Error == "" }

type LineError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// Summary accumulates the results of a streamed bulk.
type Summary struct {
	NbOk     int         `json:"nbOk"`
	NbErrors int         `json:"nbErrors"`
	Errors   []LineError `json:"errors"`
}

func (s *Summary) add(line int, res TxResult) {
	if res.OK() {
		s.NbOk++
		return
	}
	s.addError(line, res.Error)
}

func (s *Summary) addError(line int, msg string) {
	s.NbErrors++
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, LineError{Line: line, Error: msg})
	}
}

// TransactionDecoder yields raw transactions until io.EOF.
type TransactionDecoder interface {
	Next() (map[string]any, error)
}

type RevisionPage struct {
	Total   int64            `json:"total"`
	Results []map[string]any `json:"results"`
}

// RowStore applies row transactions to REST datasets.
type RowStore interface {
	Apply(ctx context.Context, ds *types.Dataset, txs []Transaction) ([]TxResult, error)
	BulkApply(ctx context.Context, ds *types.Dataset, dec TransactionDecoder, onBatch func(Summary)) (Summary, error)
	ReadStream(ctx context.Context, datasetID string, onlyUpdated bool) iter.Seq2[*types.Row, error]
	MarkIndexed(ctx context.Context, datasetID string, marks []rows.Mark) (int64, error)
	SweepTTL(ctx context.Context, ds *types.Dataset, now time.Time) (Summary, error)

	CreateRow(ctx context.Context, ds *types.Dataset, body map[string]any) (map[string]any, error)
	UpdateRow(ctx context.Context, ds *types.Dataset, id string, body map[string]any) (map[string]any, error)
	PatchRow(ctx context.Context, ds *types.Dataset, id string, body map[string]any) (map[string]any, error)
	DeleteRow(ctx context.Context, ds *types.Dataset, id string) error
	ReadRow(ctx context.Context, ds *types.Dataset, id string) (*types.Row, error)
	ReadRevisions(ctx context.Context, ds *types.Dataset, id string, page, size int) (*RevisionPage, error)
}

type rowStore struct {
	db        *gorm.DB
	log       *logger.Logger
	datasets  datasets.DatasetRepo
	rows      rows.RowRepo
	revisions rows.RevisionRepo
	storage   StorageService
	notifier  Notifier

	clockMu sync.Mutex
	last    time.Time
}

func NewRowStore(
	db *gorm.DB,
	dsRepo datasets.DatasetRepo,
	rowRepo rows.RowRepo,
	revRepo rows.RevisionRepo,
	storage StorageService,
	notifier Notifier,
	baseLog *logger.Logger,
) RowStore {
	return &rowStore{
		db:        db,
		log:       baseLog.With("service", "RowStore"),
		datasets:  dsRepo,
		rows:      rowRepo,
		revisions: revRepo,
		storage:   storage,
		notifier:  notifier,
	}
}

// stamp returns strictly increasing row timestamps so two writes of one line never share a
// revision key.
func (s *rowStore) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := types.Now()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// prepared is a transaction that passed validation.
type prepared struct {
	index int
	tx    Transaction
	body  map[string]any
}

func (s *rowStore) Apply(ctx context.Context, ds *types.Dataset, txs []Transaction) ([]TxResult, error) {
	if !ds.IsRest {
		return nil, apierr.Validation("dataset %s is not a REST dataset", ds.ID)
	}
	if len(txs) == 0 {
		return nil, nil
	}
	if !onlyDeletes(txs) {
		if err := s.storage.CheckQuota(ctx, ds); err != nil {
			return nil, err
		}
	}
	validator, err := schema.NewValidator(ds.SchemaFields())
	if err != nil {
		return nil, err
	}

	results := make([]TxResult, len(txs))
	valid := make([]prepared, 0, len(txs))
	for i, tx := range txs {
		res, p, ok := prepare(validator, tx)
		results[i] = res
		if ok {
			p.index = i
			valid = append(valid, p)
		}
	}

	history := ds.RestOptions().History
	if !history && len(txs) > BulkThreshold {
		err = s.applyBulk(ctx, ds, valid, results)
	} else {
		err = s.applySequential(ctx, ds, history, valid, results)
	}
	if err != nil {
		return nil, err
	}

	applied := make([]Transaction, 0, len(valid))
	for _, p := range valid {
		if results[p.index].OK() {
			applied = append(applied, Transaction{Action: p.tx.Action, ID: results[p.index].ID, Body: p.body})
		}
	}
	if len(applied) > 0 {
		s.afterWrite(ctx, ds, applied)
	}
	return results, nil
}

func onlyDeletes(txs []Transaction) bool {
	for _, tx := range txs {
		if tx.Action != ActionDelete {
			return false
		}
	}
	return true
}

func prepare(v *schema.Validator, tx Transaction) (TxResult, prepared, bool) {
	res := TxResult{ID: tx.ID, Action: tx.Action, Status: http.StatusOK}
	fail := func(status int, msg string) (TxResult, prepared, bool) {
		res.Status, res.Error = status, msg
		return res, prepared{}, false
	}
	if !tx.Action.Valid() {
		return fail(http.StatusBadRequest, fmt.Sprintf("action %q is unknown, use one of create, update, patch, delete", tx.Action))
	}
	if tx.idErr != "" {
		return fail(http.StatusBadRequest, tx.idErr)
	}
	if tx.Action == ActionCreate && tx.ID == "" {
		tx.ID = uuid.NewString()
		res.ID = tx.ID
	}
	if tx.ID == "" {
		return fail(http.StatusBadRequest, `"_id" attribute is required`)
	}
	if tx.Action == ActionDelete {
		return res, prepared{tx: tx}, true
	}
	withID := make(map[string]any, len(tx.Body)+1)
	for k, v := range tx.Body {
		withID[k] = v
	}
	withID[types.KeyID] = tx.ID
	body, err := v.Validate(withID)
	if err != nil {
		return fail(http.StatusBadRequest, err.Error())
	}
	delete(body, types.KeyID)
	return res, prepared{tx: tx, body: body}, true
}

// nextState computes the row after a transaction. current may be nil.
func nextState(datasetID string, current *types.Row, p prepared, at time.Time) (*types.Row, error) {
	row := &types.Row{DatasetID: datasetID, ID: p.tx.ID, UpdatedAt: at, NeedsIndexing: true}
	switch p.tx.Action {
	case ActionCreate, ActionUpdate:
		row.Data = datatypes.JSONMap(p.body)
	case ActionPatch:
		data := datatypes.JSONMap{}
		if current != nil && !current.Deleted {
			for k, v := range current.Data {
				data[k] = v
			}
		}
		for k, v := range p.body {
			data[k] = v
		}
		row.Data = data
	case ActionDelete:
		if current == nil || current.Deleted {
			return nil, apierr.NotFound("line %s not found", p.tx.ID)
		}
		row.Deleted = true
	}
	return row, nil
}

func (s *rowStore) applySequential(ctx context.Context, ds *types.Dataset, history bool, valid []prepared, results []TxResult) error {
	if len(valid) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: txx}
		for _, p := range valid {
			current, err := s.rows.Get(dbc, ds.ID, p.tx.ID, true)
			if err != nil {
				return err
			}
			row, err := nextState(ds.ID, current, p, s.stamp())
			if err != nil {
				results[p.index].Status, results[p.index].Error = statusOf(err), err.Error()
				continue
			}
			if err := s.rows.Upsert(dbc, []*types.Row{row}); err != nil {
				return err
			}
			if history {
				rev := &types.Revision{DatasetID: ds.ID, LineID: row.ID, UpdatedAt: row.UpdatedAt, Deleted: row.Deleted, Data: row.Data}
				if err := s.revisions.Insert(dbc, []*types.Revision{rev}); err != nil {
					return err
				}
			}
			results[p.index].Line = externalDoc(row)
		}
		return nil
	})
}

// applyBulk folds the batch per line in order and writes the final states in one upsert.
func (s *rowStore) applyBulk(ctx context.Context, ds *types.Dataset, valid []prepared, results []TxResult) error {
	if len(valid) == 0 {
		return nil
	}
	ids := make([]string, 0, len(valid))
	seen := map[string]bool{}
	for _, p := range valid {
		if !seen[p.tx.ID] {
			seen[p.tx.ID] = true
			ids = append(ids, p.tx.ID)
		}
	}
	dbc := dbctx.With(ctx)
	existing, err := s.rows.GetByIDs(dbc, ds.ID, ids)
	if err != nil {
		return err
	}
	at := s.stamp()
	states := make(map[string]*types.Row, len(ids))
	for _, p := range valid {
		current, ok := states[p.tx.ID]
		if !ok {
			current = existing[p.tx.ID]
		}
		row, err := nextState(ds.ID, current, p, at)
		if err != nil {
			results[p.index].Status, results[p.index].Error = statusOf(err), err.Error()
			continue
		}
		states[p.tx.ID] = row
		results[p.index].Line = externalDoc(row)
	}
	batch := make([]*types.Row, 0, len(states))
	for _, id := range ids {
		if row, ok := states[id]; ok {
			batch = append(batch, row)
		}
	}
	return s.rows.Upsert(dbc, batch)
}

func statusOf(err error) int {
	status, _ := apierr.StatusOf(err)
	return status
}

// afterWrite publishes the applied transactions and moves a published dataset to updated.
func (s *rowStore) afterWrite(ctx context.Context, ds *types.Dataset, applied []Transaction) {
	s.notifier.Transactions(ds.ID, applied)
	if ds.Status == types.StatusFinalized {
		ok, err := s.datasets.UpdateFieldsIfStatus(dbctx.With(ctx), ds.ID, []types.Status{types.StatusFinalized}, map[string]interface{}{
			"status": types.StatusUpdated,
		})
		if err != nil {
			s.log.Warn("mark dataset updated failed", "dataset_id", ds.ID, "error", err)
		} else if ok {
			ds.Status = types.StatusUpdated
		}
	}
	s.storage.RefreshAsync(ds.ID)
}

func externalDoc(row *types.Row) map[string]any {
	if row.Deleted {
		return map[string]any{types.KeyID: row.ID, types.KeyUpdatedAt: types.FormatTimestamp(row.UpdatedAt)}
	}
	return row.Document()
}

func (s *rowStore) BulkApply(ctx context.Context, ds *types.Dataset, dec TransactionDecoder, onBatch func(Summary)) (Summary, error) {
	summary := Summary{Errors: []LineError{}}
	batch := make([]Transaction, 0, FlushSize)
	line := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := s.Apply(ctx, ds, batch)
		if err != nil {
			return err
		}
		for _, res := range results {
			summary.add(line, res)
			line++
		}
		batch = batch[:0]
		if onBatch != nil {
			onBatch(summary)
		}
		return nil
	}

	for {
		raw, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			summary.addError(-1, err.Error())
			return summary, err
		}
		batch = append(batch, NewTransaction(raw))
		if len(batch) >= FlushSize {
			if err := flush(); err != nil {
				summary.addError(-1, err.Error())
				return summary, err
			}
		}
	}
	if err := flush(); err != nil {
		summary.addError(-1, err.Error())
		return summary, err
	}
	return summary, nil
}

func (s *rowStore) ReadStream(ctx context.Context, datasetID string, onlyUpdated bool) iter.Seq2[*types.Row, error] {
	return func(yield func(*types.Row, error) bool) {
		after := ""
		for {
			page, err := s.rows.Page(dbctx.With(ctx), datasetID, rows.PageQuery{AfterID: after, Limit: 500, OnlyDirty: onlyUpdated})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}
			if len(page) < 500 {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (s *rowStore) MarkIndexed(ctx context.Context, datasetID string, marks []rows.Mark) (int64, error) {
	return s.rows.MarkIndexed(dbctx.With(ctx), datasetID, marks)
}

// SweepTTL deletes rows whose TTL property is older than now minus the delay.
func (s *rowStore) SweepTTL(ctx context.Context, ds *types.Dataset, now time.Time) (Summary, error) {
	summary := Summary{Errors: []LineError{}}
	opts := ds.RestOptions()
	if !ds.IsRest || !opts.TTL.Active || opts.TTL.Prop == "" {
		return summary, nil
	}
	before := types.FormatTimestamp(now.Add(-opts.TTL.Delay.Duration()))
	for {
		expired, err := s.rows.ExpiredPage(dbctx.With(ctx), ds.ID, opts.TTL.Prop, before, 500)
		if err != nil {
			return summary, err
		}
		if len(expired) == 0 {
			break
		}
		txs := make([]Transaction, 0, len(expired))
		for _, r := range expired {
			txs = append(txs, Transaction{Action: ActionDelete, ID: r.ID})
		}
		results, err := s.Apply(ctx, ds, txs)
		if err != nil {
			return summary, err
		}
		okBefore := summary.NbOk
		for i, res := range results {
			summary.add(i, res)
		}
		if summary.NbOk == okBefore || len(expired) < 500 {
			break
		}
	}
	checked := now.UTC()
	opts.TTL.CheckedAt = &checked
	if err := s.datasets.UpdateFields(dbctx.With(ctx), ds.ID, map[string]interface{}{
		"rest": datatypes.NewJSONType(opts),
	}); err != nil {
		return summary, err
	}
	ds.Rest = datatypes.NewJSONType(opts)
	return summary, nil
}

func (s *rowStore) single(ctx context.Context, ds *types.Dataset, tx Transaction) (TxResult, error) {
	results, err := s.Apply(ctx, ds, []Transaction{tx})
	if err != nil {
		return TxResult{}, err
	}
	res := results[0]
	if !res.OK() {
		if res.Status == http.StatusNotFound {
			return res, apierr.NotFound("%s", res.Error)
		}
		return res, apierr.Validation("%s", res.Error)
	}
	return res, nil
}

func (s *rowStore) CreateRow(ctx context.Context, ds *types.Dataset, body map[string]any) (map[string]any, error) {
	tx := NewTransaction(body)
	if tx.Action != ActionUpdate {
		tx.Action = ActionCreate
	}
	res, err := s.single(ctx, ds, tx)
	return res.Line, err
}

func (s *rowStore) UpdateRow(ctx context.Context, ds *types.Dataset, id string, body map[string]any) (map[string]any, error) {
	tx := NewTransaction(body)
	tx.Action, tx.ID, tx.idErr = ActionUpdate, id, ""
	res, err := s.single(ctx, ds, tx)
	return res.Line, err
}

func (s *rowStore) PatchRow(ctx context.Context, ds *types.Dataset, id string, body map[string]any) (map[string]any, error) {
	tx := NewTransaction(body)
	tx.Action, tx.ID, tx.idErr = ActionPatch, id, ""
	res, err := s.single(ctx, ds, tx)
	return res.Line, err
}

func (s *rowStore) DeleteRow(ctx context.Context, ds *types.Dataset, id string) error {
	_, err := s.single(ctx, ds, Transaction{Action: ActionDelete, ID: id})
	return err
}

// ReadRow returns a live row or a not found error.
func (s *rowStore) ReadRow(ctx context.Context, ds *types.Dataset, id string) (*types.Row, error) {
	row, err := s.rows.Get(dbctx.With(ctx), ds.ID, id, false)
	if err != nil {
		return nil, err
	}
	if row == nil || row.Deleted {
		return nil, apierr.NotFound("line %s not found", id)
	}
	return row, nil
}

func (s *rowStore) ReadRevisions(ctx context.Context, ds *types.Dataset, id string, page, size int) (*RevisionPage, error) {
	if !ds.RestOptions().History {
		return nil, apierr.Validation("line history is not enabled for dataset %s", ds.ID)
	}
	if size <= 0 {
		size = 10
	}
	if page <= 0 {
		page = 1
	}
	revs, total, err := s.revisions.List(dbctx.With(ctx), ds.ID, id, (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	out := &RevisionPage{Total: total, Results: make([]map[string]any, 0, len(revs))}
	for _, r := range revs {
		doc := r.Document()
		doc[types.KeyID] = doc["_lineId"]
		delete(doc, "_lineId")
		out.Results = append(out.Results, doc)
	}
	return out, nil
}

