// Package web 各模块handler共用的响应格式和请求辅助函数。
package web

import (
	"strconv"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/gin-gonic/gin"
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// SuccessList 分页列表响应
func SuccessList(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// HandleError 按错误类别映射HTTP响应，未分类错误一律按500处理且不外泄detail
func HandleError(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		BadRequest(c, err.Error())
	case apperr.KindNotFound:
		NotFound(c, err.Error())
	case apperr.KindPermission:
		Forbidden(c, err.Error())
	case apperr.KindConflict:
		Conflict(c, err.Error())
	default:
		InternalError(c, "internal error")
	}
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

func GetUserName(c *gin.Context) string {
	return c.GetString("user_name")
}

// GetOrgID 取当前用户所属厂商org，本社员工为空串
func GetOrgID(c *gin.Context) string {
	return c.GetString("org_id")
}

func GetUserKind(c *gin.Context) string {
	return c.GetString("user_kind")
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
