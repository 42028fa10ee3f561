package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hpnt/matreq/internal/imagestore"
	"github.com/hpnt/matreq/internal/request"
	"github.com/hpnt/matreq/internal/service"
)

// jsonError writes {success:false, error} with a status derived from err.
// Unexpected errors are logged and hidden from the client.
func (h *handlers) jsonError(c *gin.Context, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		c.Error(err)
		h.Log.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("request failed")
		msg = "서버 오류가 발생했습니다."
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func classify(err error) (int, string) {
	var verr *request.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, request.ErrNotFound):
		return http.StatusNotFound, "요청을 찾을 수 없습니다."
	case errors.Is(err, service.ErrNoImage):
		return http.StatusBadRequest, "삭제할 이미지가 없습니다."
	case errors.Is(err, imagestore.ErrInvalidImage):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// paramID parses the :id path segment. It writes a 404 and returns false
// when the segment is not a positive integer.
func paramID(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "요청을 찾을 수 없습니다."})
		return 0, false
	}
	return uint(n), true
}
