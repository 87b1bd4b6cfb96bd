package runtime_test

import (
	"errors"
	"testing"

	"github.com/yungbote/dataset-engine/internal/data/testutil"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	jobrt "github.com/yungbote/dataset-engine/internal/jobs/runtime"
	"github.com/yungbote/dataset-engine/internal/jobs/pipeline/pipelinetest"
)

func claimed(t *testing.T, env *pipelinetest.Env, id string) *jobrt.Context {
	t.Helper()
	ds := testutil.RestDataset(id)
	ds.Status = types.StatusExtended
	return env.Claimed(t, ds, types.StatusFinalizing)
}

func TestCommitClearsClaim(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	jc := claimed(t, env, "a")
	if err := jc.Commit(types.StatusFinalized, map[string]interface{}{"count": int64(7)}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !jc.Done() {
		t.Fatalf("context must be done after commit")
	}
	got := env.Reload(t, "a")
	if got.Status != types.StatusFinalized || got.Count != 7 {
		t.Fatalf("dataset: status=%s count=%d", got.Status, got.Count)
	}
	if got.ClaimedAt != nil || got.ClaimedFrom != "" || got.ClaimAttempts != 0 {
		t.Fatalf("claim bookkeeping not cleared: %+v", got)
	}
	if events := env.Events(t, "a"); len(events) == 0 || events[0] != types.EventStageEnd {
		t.Fatalf("journal: want %s first, got %v", types.EventStageEnd, events)
	}
}

func TestWritesAfterLostClaim(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	jc := claimed(t, env, "b")
	// another actor rewinds the dataset
	if err := env.DB.Model(&types.Dataset{}).Where("id = ?", "b").Update("status", types.StatusExtended).Error; err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if err := jc.Update(map[string]interface{}{"count": int64(1)}); !errors.Is(err, jobrt.ErrClaimLost) {
		t.Fatalf("update: want=%v got=%v", jobrt.ErrClaimLost, err)
	}
	if err := jc.Commit(types.StatusFinalized, nil); !errors.Is(err, jobrt.ErrClaimLost) {
		t.Fatalf("commit: want=%v got=%v", jobrt.ErrClaimLost, err)
	}
	if got := env.Reload(t, "b"); got.Status != types.StatusExtended {
		t.Fatalf("status: want=%s got=%s", types.StatusExtended, got.Status)
	}
}

func TestFailRecordsError(t *testing.T) {
	env := pipelinetest.NewEnv(t)
	jc := claimed(t, env, "c")
	jc.Fail(errors.New("boom"))
	got := env.Reload(t, "c")
	if got.Status != types.StatusError || got.ErrorMessage != "boom" {
		t.Fatalf("dataset: status=%s msg=%q", got.Status, got.ErrorMessage)
	}
	if events := env.Events(t, "c"); len(events) == 0 || events[0] != types.EventError {
		t.Fatalf("journal: want %s first, got %v", types.EventError, events)
	}
	// a second failure is ignored
	jc.Fail(errors.New("again"))
	if got := env.Reload(t, "c"); got.ErrorMessage != "boom" {
		t.Fatalf("message overwritten: %q", got.ErrorMessage)
	}
}

type stage struct {
	name    string
	working types.Status
}

func (s stage) Type() string               { return s.name }
func (s stage) Claims() []types.Status     { return []types.Status{types.StatusLoaded} }
func (s stage) Working() types.Status      { return s.working }
func (s stage) Run(_ *jobrt.Context) error { return nil }

func TestRegistryRejectsConflicts(t *testing.T) {
	r := jobrt.NewRegistry()
	if err := r.Register(stage{"b", types.StatusAnalyzing}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stage{"a", types.StatusConverting}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stage{"b", types.StatusIndexing}); err == nil {
		t.Fatalf("duplicate stage accepted")
	}
	if err := r.Register(stage{"c", types.StatusAnalyzing}); err == nil {
		t.Fatalf("shared working status accepted")
	}
	if err := r.Register(stage{"d", types.StatusFinalized}); err == nil {
		t.Fatalf("stable working status accepted")
	}
	all := r.All()
	if len(all) != 2 || all[0].Type() != "a" || all[1].Type() != "b" {
		t.Fatalf("all: unexpected order %v", all)
	}
}
