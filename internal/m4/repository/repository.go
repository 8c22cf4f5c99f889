package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

func newID() string {
	return uuid.New().String()[:32]
}

// Repositories 4M模块仓库集合
type Repositories struct {
	M4     *M4Repository
	Formal *FormalRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		M4:     NewM4Repository(db),
		Formal: NewFormalRepository(db),
	}
}
