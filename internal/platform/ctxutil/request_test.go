package ctxutil

import (
	"context"
	"reflect"
	"testing"
)

func TestEnsureReusesAttachedData(t *testing.T) {
	ctx, rd := Ensure(context.Background())
	rd.RequestID = "req-1"
	ctx2, rd2 := Ensure(ctx)
	if rd2 != rd || ctx2 != ctx {
		t.Fatalf("Ensure: want same request data on second call")
	}
	if got := GetRequestData(ctx2).RequestID; got != "req-1" {
		t.Fatalf("request id: want=req-1 got=%q", got)
	}
}

func TestLogFieldsSkipsEmptyIDs(t *testing.T) {
	rd := &RequestData{TraceID: "t", OwnerType: "user", DatasetID: "villes"}
	want := []interface{}{"trace_id", "t", "dataset_id", "villes"}
	if got := rd.LogFields(); !reflect.DeepEqual(got, want) {
		t.Fatalf("LogFields: want=%v got=%v", want, got)
	}
	rd.OwnerID = "42"
	want = []interface{}{"trace_id", "t", "owner_id", "user:42", "dataset_id", "villes"}
	if got := rd.LogFields(); !reflect.DeepEqual(got, want) {
		t.Fatalf("LogFields with owner: want=%v got=%v", want, got)
	}
	if (*RequestData)(nil).LogFields() != nil {
		t.Fatalf("nil LogFields: want nil")
	}
}
