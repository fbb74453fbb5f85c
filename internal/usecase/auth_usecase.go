package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/director74/bet_integration/internal/entity"
	"github.com/director74/bet_integration/internal/repo"
	"github.com/director74/bet_integration/pkg/auth"
	apperrors "github.com/director74/bet_integration/pkg/errors"
)

// AuthUseCase реализует аутентификацию пользователей сервиса
type AuthUseCase struct {
	userRepo   repo.UserRepository
	jwtManager *auth.JWTManager
}

func NewAuthUseCase(userRepo repo.UserRepository, jwtManager *auth.JWTManager) *AuthUseCase {
	return &AuthUseCase{
		userRepo:   userRepo,
		jwtManager: jwtManager,
	}
}

// Login проверяет учетные данные и выдает JWT токен. Несуществующий
// пользователь и неверный пароль неразличимы в ответе.
func (uc *AuthUseCase) Login(ctx context.Context, req entity.LoginRequest) (*entity.LoginResponse, error) {
	user, err := uc.userRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, apperrors.NewInvalidCredentialsError()
		}
		return nil, apperrors.NewInternalServerError(err)
	}

	if !auth.CheckPasswordHash(req.Password, user.Password) {
		return nil, apperrors.NewInvalidCredentialsError()
	}

	token, err := uc.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.NewInternalServerError(err)
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := uc.userRepo.Update(ctx, user); err != nil {
		apperrors.LogError(err, "AuthUseCase.Login")
	}

	return &entity.LoginResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Token:    token,
	}, nil
}
