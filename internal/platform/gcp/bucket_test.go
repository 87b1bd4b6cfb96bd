package gcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

func TestMemoryBucketRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket()
	n, err := b.UploadFile(ctx, BucketCategoryDatasets, "ds1/source/a.csv", strings.NewReader("a;b\n1;2\n"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if n != 8 {
		t.Fatalf("size: want=8 got=%d", n)
	}
	if _, err := b.UploadFile(ctx, BucketCategoryDatasets, "ds2/source/b.csv", strings.NewReader("x")); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	rc, err := b.DownloadFile(ctx, BucketCategoryDatasets, "ds1/source/a.csv")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "a;b\n1;2\n" {
		t.Fatalf("body: got=%q", body)
	}

	if err := b.DeletePrefix(ctx, BucketCategoryDatasets, "ds1/"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	keys, _ := b.ListKeys(ctx, BucketCategoryDatasets, "")
	if len(keys) != 1 || keys[0] != "ds2/source/b.csv" {
		t.Fatalf("keys: got=%v", keys)
	}
	if _, err := b.GetObjectAttrs(ctx, BucketCategoryDatasets, "ds1/source/a.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("attrs after delete: want=ErrObjectNotFound got=%v", err)
	}
}

func TestEmulatorDownloadAndAttrs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/storage/v1/b/dsb/o/ds1/source/a.csv" && r.URL.Query().Get("alt") == "media":
			_, _ = w.Write([]byte("hello"))
		case r.URL.Path == "/storage/v1/b/dsb/o/ds1/source/a.csv":
			_, _ = w.Write([]byte(`{"size":"5","contentType":"text/csv","updated":"2024-01-02T03:04:05Z","etag":"e1"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bs, err := NewBucketServiceWithConfig(logger.Nop(), ObjectStorageConfig{
		Mode:          ObjectStorageModeGCSEmulator,
		EmulatorHost:  srv.URL,
		DatasetBucket: "dsb",
	})
	if err != nil {
		t.Fatalf("NewBucketServiceWithConfig: %v", err)
	}
	ctx := context.Background()
	attrs, err := bs.GetObjectAttrs(ctx, BucketCategoryDatasets, "ds1/source/a.csv")
	if err != nil {
		t.Fatalf("GetObjectAttrs: %v", err)
	}
	if attrs.Size != 5 || attrs.ContentType != "text/csv" || attrs.ETag != "e1" {
		t.Fatalf("attrs: got=%+v", attrs)
	}
	rc, err := bs.DownloadFile(ctx, BucketCategoryDatasets, "ds1/source/a.csv")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "hello" {
		t.Fatalf("body: got=%q", body)
	}
	if _, err := bs.DownloadFile(ctx, BucketCategoryDatasets, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("missing: want=ErrObjectNotFound got=%v", err)
	}
	url := bs.GetPublicURL(BucketCategoryDatasets, "ds1/source/a.csv")
	if !strings.HasPrefix(url, srv.URL+"/storage/v1/b/dsb/o/") || !strings.HasSuffix(url, "?alt=media") {
		t.Fatalf("public url: got=%s", url)
	}
}

func TestContentTypeForKey(t *testing.T) {
	cases := map[string]string{
		"a.csv":     "text/csv",
		"a.NDJSON":  "application/x-ndjson",
		"a.geojson": "application/geo+json",
		"a.unknown": "application/octet-stream",
	}
	for key, want := range cases {
		if got := ContentTypeForKey(key); got != want {
			t.Fatalf("%s: want=%s got=%s", key, want, got)
		}
	}
}
