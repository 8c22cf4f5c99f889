package service

import (
	"context"
	"fmt"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/config"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// AuthService 认证服务
type AuthService struct {
	userRepo *repository.UserRepository
	rdb      *redis.Client
	cfg      *config.Config
}

// NewAuthService 创建认证服务
func NewAuthService(userRepo *repository.UserRepository, rdb *redis.Client, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		rdb:      rdb,
		cfg:      cfg,
	}
}

// TokenPair Token对
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login 账号密码登录
func (s *AuthService) Login(ctx context.Context, username, password string) (*entity.User, *TokenPair, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil, apperr.Validation("用户名或密码错误")
		}
		return nil, nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apperr.Validation("用户名或密码错误")
	}

	if user.Status != entity.UserStatusActive {
		return nil, nil, apperr.Permission("账号已停用")
	}

	now := time.Now()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("update last login: %w", err)
	}

	if err := s.userRepo.LoadCapabilities(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("load capabilities: %w", err)
	}

	tokenPair, err := s.generateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate token: %w", err)
	}

	return user, tokenPair, nil
}

// generateTokenPair 生成Token对，refresh token登记到Redis
func (s *AuthService) generateTokenPair(ctx context.Context, user *entity.User) (*TokenPair, error) {
	now := time.Now()
	jti := uuid.New().String()

	// Access Token
	accessClaims := jwt.MapClaims{
		"sub":    user.ID,
		"uid":    user.ID,
		"name":   user.Name,
		"email":  user.Email,
		"kind":   user.Kind,
		"org_id": user.OrgID,
		"caps":   user.CapabilityCodes,
		"iss":    s.cfg.JWT.Issuer,
		"iat":    now.Unix(),
		"exp":    now.Add(s.cfg.JWT.AccessTokenExpire).Unix(),
		"jti":    jti,
	}

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessTokenString, err := accessToken.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	// Refresh Token
	refreshJti := uuid.New().String()
	refreshClaims := jwt.MapClaims{
		"sub":  user.ID,
		"type": "refresh",
		"iss":  s.cfg.JWT.Issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(s.cfg.JWT.RefreshTokenExpire).Unix(),
		"jti":  refreshJti,
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	// 存储Refresh Token到Redis
	s.rdb.Set(ctx, "token:refresh:"+refreshJti, user.ID, s.cfg.JWT.RefreshTokenExpire)

	return &TokenPair{
		AccessToken:  accessTokenString,
		RefreshToken: refreshTokenString,
		ExpiresIn:    int64(s.cfg.JWT.AccessTokenExpire.Seconds()),
	}, nil
}

// RefreshToken 刷新Token，旧refresh token作废（单次使用）
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*TokenPair, error) {
	token, err := jwt.Parse(refreshTokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.Secret), nil
	})
	if err != nil {
		return nil, apperr.Validation("invalid refresh token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, apperr.Validation("invalid token claims")
	}

	if claims["type"] != "refresh" {
		return nil, apperr.Validation("invalid token type")
	}

	jti, _ := claims["jti"].(string)
	userID, err := s.rdb.Get(ctx, "token:refresh:"+jti).Result()
	if err != nil {
		return nil, apperr.Validation("refresh token expired or invalid")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, apperr.NotFound("用户不存在")
	}

	if user.Status != entity.UserStatusActive {
		return nil, apperr.Permission("账号已停用")
	}

	if err := s.userRepo.LoadCapabilities(ctx, user); err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}

	// 删除旧的Refresh Token
	s.rdb.Del(ctx, "token:refresh:"+jti)

	return s.generateTokenPair(ctx, user)
}

// Logout 登出，注销传入的refresh token
func (s *AuthService) Logout(ctx context.Context, refreshTokenString string) error {
	if refreshTokenString == "" {
		return nil
	}
	token, err := jwt.Parse(refreshTokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.Secret), nil
	})
	if err != nil {
		return nil
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if jti, ok := claims["jti"].(string); ok && jti != "" {
			s.rdb.Del(ctx, "token:refresh:"+jti)
		}
	}
	return nil
}

// GetCurrentUser 获取当前用户
func (s *AuthService) GetCurrentUser(ctx context.Context, userID string) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("用户不存在")
		}
		return nil, err
	}

	if err := s.userRepo.LoadCapabilities(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}
