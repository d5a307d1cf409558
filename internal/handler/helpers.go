package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/middleware"
	"github.com/xxxsen/recall/internal/pkg/errcode"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/pkg/response"
)

func getOwnerID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextOwnerIDKey)
	ownerID, _ := value.(string)
	return ownerID
}

func queryInt(c *gin.Context, key string) int {
	value := c.Query(key)
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func logRequestError(c *gin.Context, msg string, err error) {
	logutil.GetLogger(c.Request.Context()).Error(msg,
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("owner_id", getOwnerID(c)),
		zap.Error(err),
	)
}

func codeOf(err error) int {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized
	case errors.Is(err, appErr.ErrForbidden):
		return errcode.ErrForbidden
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany
	case errors.Is(err, ai.ErrUnavailable):
		return errcode.ErrAIUnavailable
	default:
		return errcode.ErrInternal
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logRequestError(c, "request failed", err)
	code := codeOf(err)
	response.Error(c, code, errcode.Message(code))
}
