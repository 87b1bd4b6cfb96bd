package observability

import (
	"reflect"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = s3cret ,broken, x-team=data,=empty")
	want := map[string]string{"api-key": "s3cret", "x-team": "data"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseHeaders: want=%v got=%v", want, got)
	}
	if got := ParseHeaders(""); got != nil {
		t.Fatalf("ParseHeaders(empty): want=nil got=%v", got)
	}
}

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.25: 0.25, 3: 1} {
		if got := clampRatio(in); got != want {
			t.Fatalf("clampRatio(%v): want=%v got=%v", in, want, got)
		}
	}
}
