package repository

import (
	"errors"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)
