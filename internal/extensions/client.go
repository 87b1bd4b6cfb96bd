package extensions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/ctxutil"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

// Client calls a remote service action with a batch of NDJSON inputs.
type Client interface {
	Call(ctx context.Context, svc *datasets.RemoteService, action datasets.Action, owner datasets.Owner, inputs []map[string]any) ([]map[string]any, error)
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote service error (status=%d): %s", e.StatusCode, e.Body)
}

type httpClient struct {
	log        *logger.Logger
	httpClient *http.Client
}

// NewClient makes exactly one attempt per call, bounded by timeout.
func NewClient(timeout time.Duration, baseLog *logger.Logger) Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &httpClient{
		log:        baseLog.With("component", "RemoteServiceClient"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) Call(ctx context.Context, svc *datasets.RemoteService, action datasets.Action, owner datasets.Owner, inputs []map[string]any) ([]map[string]any, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, in := range inputs {
		if err := enc.Encode(in); err != nil {
			return nil, err
		}
	}
	method := strings.ToUpper(action.Method)
	if method == "" {
		method = http.MethodPost
	}
	url := strings.TrimRight(svc.Server, "/") + "/" + strings.TrimLeft(action.Path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Accept", "application/x-ndjson")
	if svc.APIKeyHeader != "" && svc.APIKeyValue != "" {
		req.Header.Set(svc.APIKeyHeader, svc.APIKeyValue)
	}
	if owner.ID != "" {
		req.Header.Set("x-ownerId", owner.Type+":"+owner.ID)
	}
	if rd := ctxutil.GetRequestData(ctx); rd != nil && rd.RequestID != "" {
		req.Header.Set("X-Request-Id", rd.RequestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s/%s: %w", svc.ID, action.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return ReadNDJSON(resp.Body)
}

// ReadNDJSON decodes one object per non-empty line.
func ReadNDJSON(r io.Reader) ([]map[string]any, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	var out []map[string]any
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var item map[string]any
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, fmt.Errorf("bad content - %s", truncate(string(line), 200))
		}
		out = append(out, item)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
