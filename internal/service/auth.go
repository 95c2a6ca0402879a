package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

// AuthSettings are the token and hashing parameters.
type AuthSettings struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// Session is what a successful register, login or refresh hands back.
// Refresh.Raw is shown to the client once; only its hash is stored.
type Session struct {
	User    model.User
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// AuthService issues and rotates sessions. Access tokens are stateless
// JWTs; refresh tokens are opaque and revocable.
type AuthService struct {
	users  UserRepository
	tokens TokenRepository
	cfg    AuthSettings
	clock  clock.Clock
	log    *logrus.Entry
}

func NewAuthService(users UserRepository, tokens TokenRepository, cfg AuthSettings, clk clock.Clock, log *logrus.Entry) *AuthService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &AuthService{users: users, tokens: tokens, cfg: cfg, clock: clk, log: component(log, "auth")}
}

// Register creates a user. Only CUSTOMER and VENDOR can self-register;
// anything else falls back to CUSTOMER.
func (s *AuthService) Register(ctx context.Context, email, password, role string) (Session, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role != model.RoleVendor {
		role = model.RoleCustomer
	}
	u, err := s.createUser(ctx, email, password, role)
	if err != nil {
		return Session{}, err
	}
	return s.issue(ctx, u)
}

func (s *AuthService) createUser(ctx context.Context, email, password, role string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return model.User{}, model.ErrInvalidInput
	}
	hash, err := utils.HashPassword(password, s.cfg.BcryptCost)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		return model.User{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if err != nil {
		return model.User{}, err
	}
	now := s.clock.Now()
	u := model.User{
		ID:           newID(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": role}).Info("user registered")
	return u, nil
}

// EnsureAdmin creates the bootstrap admin if the email is not taken yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	_, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}
	_, err = s.createUser(ctx, email, password, model.RoleAdmin)
	if errors.Is(err, model.ErrEmailExists) {
		return nil
	}
	return err
}

func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, model.ErrInvalidInput
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(ctx, u)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *AuthService) Refresh(ctx context.Context, raw string) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, ErrInvalidRefresh
	}
	hash := utils.HashRefreshRaw(raw)
	now := s.clock.Now()
	userID, err := s.tokens.ValidateRefresh(ctx, hash, now)
	if err != nil {
		return Session{}, ErrInvalidRefresh
	}
	if err := s.tokens.RevokeByHash(ctx, hash, now); err != nil {
		return Session{}, err
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return Session{}, ErrInvalidRefresh
	}
	if err != nil {
		return Session{}, err
	}
	return s.issue(ctx, u)
}

// Logout revokes one refresh token, or every token of userID when raw is
// empty.
func (s *AuthService) Logout(ctx context.Context, userID, raw string) error {
	now := s.clock.Now()
	raw = strings.TrimSpace(raw)
	if raw != "" {
		return s.tokens.RevokeByHash(ctx, utils.HashRefreshRaw(raw), now)
	}
	if userID == "" {
		return ErrInvalidRefresh
	}
	return s.tokens.RevokeAllForUser(ctx, userID, now)
}

func (s *AuthService) Me(ctx context.Context, userID string) (model.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

func (s *AuthService) issue(ctx context.Context, u model.User) (Session, error) {
	now := s.clock.Now()
	access, err := utils.NewAccessToken(s.cfg.Secret, u.ID, u.Role, s.cfg.AccessTTL, now)
	if err != nil {
		return Session{}, err
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshTTL, now)
	if err != nil {
		return Session{}, err
	}
	if err := s.tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp, now); err != nil {
		return Session{}, err
	}
	return Session{User: u, Access: access, Refresh: refresh}, nil
}
