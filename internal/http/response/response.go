package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dataset-engine/internal/platform/apierr"
	"github.com/yungbote/dataset-engine/internal/platform/ctxutil"
)

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	body := APIError{Message: msg, Code: code}
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
		body.RequestID = rd.RequestID
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: body})
}

// RespondServiceError maps a service error to its HTTP status. Untyped errors become 500s:
// the cause goes to the request log and the client only sees the request id.
func RespondServiceError(c *gin.Context, err error) {
	status, code := apierr.StatusOf(err)
	if code == apierr.CodeInternal {
		_ = c.Error(err)
		RespondError(c, status, code, nil)
		return
	}
	RespondError(c, status, code, err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
