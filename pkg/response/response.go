package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func write(c *gin.Context, status, code int, msg string, data interface{}) {
	c.JSON(status, Response{Code: code, Message: msg, Data: data})
}

// Success 成功响应; 对变更接口而言代表远端已确认
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, CodeSuccess, "success", data)
}

// Accepted 已在本地生效, 远端确认仍在进行 (HTTP 202)
func Accepted(c *gin.Context, data interface{}) {
	write(c, http.StatusAccepted, CodeSuccess, "accepted", data)
}

// Error 错误响应, data 恒为 null
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	write(c, httpCode, errCode, msg, nil)
}
