package services

import (
	stderrors "errors"

	apperrors "github.com/aihub/usage-core/internal/errors"
	"github.com/aihub/usage-core/internal/repository"
)

// Actor 调用方身份，由上层鉴权后传入
type Actor struct {
	UserID  uint
	IsAdmin bool
}

// Admin 管理员身份
func Admin(userID uint) Actor {
	return Actor{UserID: userID, IsAdmin: true}
}

// User 普通用户身份
func User(userID uint) Actor {
	return Actor{UserID: userID}
}

// owns 是否为资源所有者或管理员
func (a Actor) owns(ownerID uint) bool {
	return a.IsAdmin || a.UserID == ownerID
}

var translator = apperrors.NewErrorTranslator()

// translateRepoError 将仓库层错误转换为 AppError
func translateRepoError(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError(resource)
	case stderrors.Is(err, repository.ErrArchived):
		return apperrors.NewStateConflictError("conversation is archived")
	}
	return translator.Translate(err)
}
