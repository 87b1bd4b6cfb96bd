package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dataset-engine/internal/platform/ctxutil"
)

const headerOwner = "X-Owner"

// AttachRequestContext reads the acting owner from the X-Owner header ("type:id") and the
// dataset from the route. Requests without an owner list every dataset.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, rd := ctxutil.Ensure(c.Request.Context())
		raw := strings.TrimSpace(c.GetHeader(headerOwner))
		if typ, id, ok := strings.Cut(raw, ":"); ok {
			rd.OwnerType, rd.OwnerID = strings.TrimSpace(typ), strings.TrimSpace(id)
		}
		rd.DatasetID = c.Param("id")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
