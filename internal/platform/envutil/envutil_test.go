package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", time.Minute},
		{"90s", 90 * time.Second},
		{"45", 45 * time.Second},
		{"nope", time.Minute},
	}
	for _, tc := range cases {
		t.Setenv("TEST_DURATION", tc.raw)
		if got := Duration("TEST_DURATION", time.Minute); got != tc.want {
			t.Fatalf("Duration(%q): want=%v got=%v", tc.raw, tc.want, got)
		}
	}
}

func TestListAndBool(t *testing.T) {
	t.Setenv("TEST_LIST", " http://a:9200, ,http://b:9200 ")
	got := List("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "http://a:9200" || got[1] != "http://b:9200" {
		t.Fatalf("List: got=%v", got)
	}
	t.Setenv("TEST_BOOL", "off")
	if Bool("TEST_BOOL", true) {
		t.Fatalf("Bool: want=false got=true")
	}
}
