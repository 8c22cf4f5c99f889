package handler

import (
	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/service"
)

// Handlers 认证模块处理器集合
type Handlers struct {
	Auth *AuthHandler
	User *UserHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(authSvc *service.AuthService, userSvc *service.UserService) *Handlers {
	return &Handlers{
		Auth: NewAuthHandler(authSvc),
		User: NewUserHandler(userSvc),
	}
}
