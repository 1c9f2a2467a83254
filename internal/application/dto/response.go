package dto

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/utils"
)

// SendSuccess writes data as the JSON body.
func SendSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// SendError 将错误转换为 HTTP 状态码与 {error, reason, ...} 响应体
func SendError(c *gin.Context, err error) {
	status := errors.HTTPStatusOf(err)
	if status == http.StatusTooManyRequests {
		if gateErr, ok := errors.AsGateError(err); ok {
			if retry, ok := gateErr.Metadata()["retry_after"].(int); ok && retry > 0 {
				c.Header("Retry-After", strconv.Itoa(retry))
			}
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errors.ToResponse(err))
}

// BindJSON decodes the request body into dst and validates it.
func BindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.ErrInvalidRequest("malformed JSON body").WithCause(err)
	}
	if err := utils.ValidateStruct(dst); err != nil {
		return err
	}
	return nil
}
