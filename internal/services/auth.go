package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/agenthub/backend/internal/config"
	"github.com/agenthub/backend/internal/models"
	"github.com/agenthub/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/agenthub/backend/pkg/logger"
)

// AuthService implements refresh-token rotation with reuse detection.
//
// Every refresh token belongs to a family created at login. Rotation revokes
// the presented token and issues a replacement in the same family, so at most
// one token per family is ever active. Presenting an already-revoked token is
// treated as theft and revokes the entire family.
type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	log       zerolog.Logger
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{
		db:        db,
		jwtConfig: jwtCfg,
		log:       logger.With("auth"),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenPair is the result of login, register and refresh.
type TokenPair struct {
	AccessToken     string       `json:"access_token"`
	AccessExpireAt  time.Time    `json:"access_expire_at"`
	RefreshToken    string       `json:"refresh_token"`
	RefreshExpireAt time.Time    `json:"refresh_expire_at"`
	User            *models.User `json:"user,omitempty"`
}

// Register creates a new user account and issues its first token pair.
func (s *AuthService) Register(req *RegisterRequest, clientIP, userAgent string) (*TokenPair, error) {
	var count int64
	s.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Email:    req.Email,
		Password: hashedPassword,
		Name:     req.Name,
		Role:     "user",
		IsActive: true,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}

	return s.issuePair(&user, uuid.NewString(), clientIP, userAgent)
}

// Login authenticates a user and issues a token pair under a fresh family.
func (s *AuthService) Login(req *LoginRequest, clientIP, userAgent string) (*TokenPair, error) {
	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("invalid email or password")
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, errors.New("user is disabled")
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, errors.New("invalid email or password")
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Save(&user)

	return s.issuePair(&user, uuid.NewString(), clientIP, userAgent)
}

// issuePair signs an access/refresh token pair and persists the refresh
// token's hash under the given family.
func (s *AuthService) issuePair(user *models.User, family, clientIP, userAgent string) (*TokenPair, error) {
	accessToken, err := utils.GenerateAccessToken(user.ID, user.Email, user.Role, s.jwtConfig.AccessExpireMin)
	if err != nil {
		return nil, err
	}

	refreshExpireAt := time.Now().Add(time.Duration(s.jwtConfig.RefreshExpireHour) * time.Hour)
	refreshToken, err := utils.GenerateRefreshToken(user.ID, family, refreshExpireAt)
	if err != nil {
		return nil, err
	}

	record := models.RefreshToken{
		UserID:      user.ID,
		TokenHash:   hashToken(refreshToken),
		Family:      family,
		ExpiresAt:   refreshExpireAt,
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:     accessToken,
		AccessExpireAt:  time.Now().Add(time.Duration(s.jwtConfig.AccessExpireMin) * time.Minute),
		RefreshToken:    refreshToken,
		RefreshExpireAt: refreshExpireAt,
		User:            user,
	}, nil
}

// Refresh rotates a refresh token. Every failure collapses to ErrInvalidToken
// so the caller cannot fingerprint token state; the real reason is logged.
func (s *AuthService) Refresh(refreshToken, clientIP, userAgent string) (*TokenPair, error) {
	claims, err := utils.ParseRefreshToken(refreshToken)
	if err != nil {
		s.log.Warn().Str("ip", clientIP).Msg("refresh rejected: malformed or expired signature")
		return nil, ErrInvalidToken
	}

	var stored models.RefreshToken
	if err := s.db.Where("token_hash = ?", hashToken(refreshToken)).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn().Uint("user_id", claims.UserID).Str("ip", clientIP).Msg("refresh rejected: unknown token")
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if stored.IsRevoked {
		// Replay of an already-rotated token: someone is holding a stolen
		// copy. Kill the whole family so the thief's rotated descendants
		// die with it.
		s.log.Warn().
			Uint("user_id", stored.UserID).
			Str("family", stored.Family).
			Str("ip", clientIP).
			Msg("refresh token reuse detected, revoking family")
		if err := s.RevokeFamily(stored.Family); err != nil {
			s.log.Error().Err(err).Str("family", stored.Family).Msg("family revocation failed")
		}
		return nil, ErrInvalidToken
	}

	if time.Now().After(stored.ExpiresAt) {
		s.log.Warn().Uint("user_id", stored.UserID).Msg("refresh rejected: stored token expired")
		return nil, ErrInvalidToken
	}

	var user models.User
	if err := s.db.First(&user, stored.UserID).Error; err != nil {
		s.log.Warn().Uint("user_id", stored.UserID).Msg("refresh rejected: user missing")
		return nil, ErrInvalidToken
	}
	if !user.IsActive {
		s.log.Warn().Uint("user_id", user.ID).Msg("refresh rejected: user disabled")
		return nil, ErrInvalidToken
	}

	// Revoke the presented token with a compare-and-set so two concurrent
	// rotations of the same token cannot both win. The loser's presented
	// token is by then revoked, which the reuse check above reports as a
	// replay on its next attempt.
	now := time.Now()
	res := s.db.Model(&models.RefreshToken{}).
		Where("id = ? AND is_revoked = ?", stored.ID, false).
		Updates(map[string]interface{}{"is_revoked": true, "revoked_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		s.log.Warn().Str("family", stored.Family).Msg("refresh lost rotation race, revoking family")
		if err := s.RevokeFamily(stored.Family); err != nil {
			s.log.Error().Err(err).Str("family", stored.Family).Msg("family revocation failed")
		}
		return nil, ErrInvalidToken
	}

	pair, err := s.issuePair(&user, stored.Family, clientIP, userAgent)
	if err != nil {
		return nil, err
	}
	pair.User = nil
	return pair, nil
}

// Logout revokes the presented refresh token. Unknown tokens are not an
// error: logout is idempotent.
func (s *AuthService) Logout(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	now := time.Now()
	return s.db.Model(&models.RefreshToken{}).
		Where("token_hash = ? AND is_revoked = ?", hashToken(refreshToken), false).
		Updates(map[string]interface{}{"is_revoked": true, "revoked_at": now}).Error
}

// RevokeFamily revokes every token in a family (reuse-detection cascade).
func (s *AuthService) RevokeFamily(family string) error {
	now := time.Now()
	return s.db.Model(&models.RefreshToken{}).
		Where("family = ? AND is_revoked = ?", family, false).
		Updates(map[string]interface{}{"is_revoked": true, "revoked_at": now}).Error
}

// RevokeAllForUser revokes every live token for a user, across families.
// Used on password change to invalidate all sessions.
func (s *AuthService) RevokeAllForUser(userID uint) error {
	now := time.Now()
	return s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Updates(map[string]interface{}{"is_revoked": true, "revoked_at": now}).Error
}

// CleanupExpired deletes refresh-token rows past their expiry. Revoked rows
// are kept until expiry so reuse detection still sees them.
func (s *AuthService) CleanupExpired() error {
	res := s.db.Where("expires_at < ?", time.Now()).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info().Int64("deleted", res.RowsAffected).Msg("expired refresh tokens removed")
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ChangePassword updates a user's password and revokes all of their
// sessions.
func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return ErrNotFound
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return errors.New("incorrect old password")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	user.Password = hashedPassword
	if err := s.db.Save(&user).Error; err != nil {
		return err
	}

	return s.RevokeAllForUser(userID)
}

// CreateAdminIfNotExists creates the default admin account on first boot.
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	s.db.Model(&models.User{}).Where("role = ?", "admin").Count(&count)

	if count == 0 {
		hashedPassword, err := utils.HashPassword("admin")
		if err != nil {
			return err
		}

		admin := models.User{
			Email:    "admin@localhost",
			Password: hashedPassword,
			Name:     "Administrator",
			Role:     "admin",
			IsActive: true,
		}

		return s.db.Create(&admin).Error
	}

	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
