package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/ctxutil"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/services"
)

// ErrClaimLost is returned when the dataset left the working status while a stage ran,
// because it was rewound, reclaimed by the stale sweeper, or deleted.
var ErrClaimLost = errors.New("dataset claim lost")

/*
Context is the execution handle of one stage run on one claimed dataset.
Stages never write the status columns directly. They finish through Commit, or return
an error and let the worker call Fail. Every write is conditional on the dataset still
being in the working status the stage claimed.
*/
type Context struct {
	Ctx     context.Context
	Stage   string
	Dataset *types.Dataset
	Repo    datasets.DatasetRepo
	Notify  services.Notifier
	Log     *logger.Logger

	done bool
}

// NewContext tags the run with a fresh request id so remote calls made by the stage can be
// traced back to it.
func NewContext(ctx context.Context, stage string, ds *types.Dataset, repo datasets.DatasetRepo, notify services.Notifier, baseLog *logger.Logger) *Context {
	rd := &ctxutil.RequestData{
		RequestID: uuid.NewString(),
		OwnerType: ds.OwnerType,
		OwnerID:   ds.OwnerID,
		DatasetID: ds.ID,
	}
	rd.TraceID = rd.RequestID
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		rd.TraceID = sc.TraceID().String()
	}
	return &Context{
		Ctx:     ctxutil.WithRequestData(ctx, rd),
		Stage:   stage,
		Dataset: ds,
		Repo:    repo,
		Notify:  notify,
		Log:     baseLog.With(append([]interface{}{"stage", stage}, rd.LogFields()...)...),
	}
}

// Done reports whether Commit or Fail already ended the run.
func (c *Context) Done() bool { return c.done }

func (c *Context) working() []types.Status { return []types.Status{c.Dataset.Status} }

// Update persists intermediate columns while the claim is held.
func (c *Context) Update(updates map[string]interface{}) error {
	ok, err := c.Repo.UpdateFieldsIfStatus(dbctx.With(c.Ctx), c.Dataset.ID, c.working(), updates)
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

/*
Commit moves the dataset to next, applying updates in the same conditional write, and
clears the claim bookkeeping. A lost claim is reported as ErrClaimLost; the caller must
not retry.
*/
func (c *Context) Commit(next types.Status, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = next
	updates["claimed_from"] = ""
	updates["claimed_at"] = nil
	updates["claim_attempts"] = 0
	updates["error_message"] = ""
	ok, err := c.Repo.UpdateFieldsIfStatus(dbctx.With(c.Ctx), c.Dataset.ID, c.working(), updates)
	if err != nil {
		return err
	}
	c.done = true
	if !ok {
		return ErrClaimLost
	}
	from := c.Dataset.Status
	c.Dataset.Status = next
	c.Journal(types.EventStageEnd, "", map[string]any{"stage": c.Stage, "from": from, "to": next})
	return nil
}

// Fail moves the dataset to error with the message and records a journal error event.
func (c *Context) Fail(cause error) {
	if c.done {
		return
	}
	c.done = true
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	// the run context may already be canceled, the failure must still be recorded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Ctx), 10*time.Second)
	defer cancel()
	ok, err := c.Repo.UpdateFieldsIfStatus(dbctx.With(ctx), c.Dataset.ID, c.working(), map[string]interface{}{
		"status":        types.StatusError,
		"error_message": msg,
		"claimed_at":    nil,
	})
	if err != nil {
		c.Log.Error("record stage failure failed", "error", err, "cause", msg)
		return
	}
	if !ok {
		c.Log.Warn("stage failed after losing its claim", "cause", msg)
		return
	}
	c.Dataset.Status = types.StatusError
	c.Dataset.ErrorMessage = msg
	if err := c.Notify.Journal(ctx, c.Dataset.ID, types.EventError, msg, map[string]any{"stage": c.Stage}); err != nil {
		c.Log.Warn("journal append failed", "error", err)
	}
}

// Journal appends an event, logging instead of failing the stage.
func (c *Context) Journal(eventType, message string, data any) {
	if err := c.Notify.Journal(c.Ctx, c.Dataset.ID, eventType, message, data); err != nil {
		c.Log.Warn("journal append failed", "event", eventType, "error", err)
	}
}
