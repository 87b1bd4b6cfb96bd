package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "abc", "dataset_id", "ds1", "owner_id", "user:42"})
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key: want=[REDACTED] got=%v", out[1])
	}
	if out[3] != "ds1" {
		t.Fatalf("dataset_id: want=ds1 got=%v", out[3])
	}
	hashed, _ := out[5].(string)
	if !strings.HasPrefix(hashed, "user:hash:") || len(hashed) != len("user:hash:")+12 {
		t.Fatalf("owner_id: want user:hash:<12> got=%v", out[5])
	}
}

func TestSanitizeKVsNestedHeaders(t *testing.T) {
	out := sanitizeKVs([]interface{}{"headers", map[string]string{"x-apiKey": "k", "x-ownerId": "org:7", "accept": "json"}})
	headers := out[1].(map[string]string)
	if headers["x-apiKey"] != "[REDACTED]" {
		t.Fatalf("x-apiKey: want=[REDACTED] got=%q", headers["x-apiKey"])
	}
	if !strings.HasPrefix(headers["x-ownerId"], "org:hash:") {
		t.Fatalf("x-ownerId: want org:hash:... got=%q", headers["x-ownerId"])
	}
	if headers["accept"] != "json" {
		t.Fatalf("accept: want=json got=%q", headers["accept"])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"stage", "indexer", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("odd kv: got=%v", out)
	}
}

func TestSanitizeKVsSummarizesRowPayloads(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"row", map[string]interface{}{"nom": "Paris", "pop": 2100000},
		"inputs", []map[string]interface{}{{"q": "a"}, {"q": "b"}, {"q": "c"}},
		"count", 3,
	})
	if out[1] != "[2 fields]" {
		t.Fatalf("row: want=[2 fields] got=%v", out[1])
	}
	if out[3] != "[3 items]" {
		t.Fatalf("inputs: want=[3 items] got=%v", out[3])
	}
	if out[5] != 3 {
		t.Fatalf("count: want=3 got=%v", out[5])
	}
}
