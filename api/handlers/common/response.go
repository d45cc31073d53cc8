package common

import "github.com/gin-gonic/gin"

// OK 成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{Success: true, Data: data})
}

// OKWithMessage 带提示的成功响应
func OKWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(200, APIResponse{Success: true, Message: message, Data: data})
}

// Fail 失败响应
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Success: false, Message: message})
}

// FailWithCode 带错误码的失败响应
func FailWithCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Success: false, Code: code, Message: message})
}
