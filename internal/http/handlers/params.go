package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/ctxutil"
)

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierr.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func queryBool(c *gin.Context, name string) *bool {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	b := raw == "true" || raw == "1"
	return &b
}

func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, v := range c.QueryArray(name) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func requestOwner(c *gin.Context) (types.Owner, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if !rd.HasOwner() {
		return types.Owner{}, false
	}
	return types.Owner{Type: rd.OwnerType, ID: rd.OwnerID}, true
}

// notModified sets Last-Modified and reports whether If-Modified-Since already covers it.
// HTTP dates carry whole seconds, so the comparison truncates.
func notModified(c *gin.Context, lastModified time.Time) bool {
	lastModified = lastModified.UTC().Truncate(time.Second)
	c.Header("Last-Modified", lastModified.Format(http.TimeFormat))
	raw := c.GetHeader("If-Modified-Since")
	if raw == "" {
		return false
	}
	since, err := http.ParseTime(raw)
	if err != nil {
		return false
	}
	return !lastModified.After(since)
}
