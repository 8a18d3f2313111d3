package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tabletap/internal/domain"
)

const tokenIssuer = "tabletap"

type SignupInput struct {
	Username        string      `json:"username" validate:"required,min=3,max=150"`
	Email           string      `json:"email" validate:"required,email"`
	Password        string      `json:"password" validate:"required,min=8,max=72"`
	PasswordConfirm string      `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            domain.Role `json:"role" validate:"required,oneof=owner staff"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type Token struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *domain.User `json:"user"`
}

type Claims struct {
	jwt.RegisteredClaims
	UserID int         `json:"user_id"`
	Role   domain.Role `json:"role"`
}

type IdentityServiceInterface interface {
	Signup(ctx context.Context, in SignupInput) (*domain.User, error)
	Login(ctx context.Context, in LoginInput) (*Token, error)
	Authenticate(ctx context.Context, token string) (domain.Identity, error)
	AssignStaff(ctx context.Context, ident domain.Identity, username string) (*domain.User, error)
	EnsureAdmin(ctx context.Context, username, email, password string) error
}

type IdentityService struct {
	store    Store
	secret   []byte
	tokenTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewIdentityService(store Store, secret string, tokenTTL time.Duration, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &IdentityService{
		store:    store,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		logger:   logger.Named("identity"),
		now:      time.Now,
	}
}

var _ IdentityServiceInterface = (*IdentityService)(nil)

func (s *IdentityService) Signup(ctx context.Context, in SignupInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, NewValidationError("username", "already taken")
		}
		return nil, err
	}

	s.logger.Info("user signed up", zap.Int("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

func (s *IdentityService) Login(ctx context.Context, in LoginInput) (*Token, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByUsername(ctx, in.Username)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}

	now := s.now()
	expires := now.Add(s.tokenTTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   strconv.Itoa(user.ID),
			ExpiresAt: jwt.NewNumericDate(expires),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: user.ID,
		Role:   user.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expires, User: user}, nil
}

// Authenticate verifies the token and reloads the user so that role and
// restaurant assignment reflect the current state rather than login time.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("parse token: %v: %w", err, ErrUnauthorized)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == 0 {
		return domain.Identity{}, fmt.Errorf("invalid claims: %w", ErrUnauthorized)
	}

	user, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return domain.Identity{}, fmt.Errorf("user %d gone: %w", claims.UserID, ErrUnauthorized)
	}
	if err != nil {
		return domain.Identity{}, err
	}

	return domain.Identity{UserID: user.ID, Role: user.Role, RestaurantID: user.RestaurantID}, nil
}

func (s *IdentityService) AssignStaff(ctx context.Context, ident domain.Identity, username string) (*domain.User, error) {
	if !ident.Role.Can(domain.ActionManageRestaurant) {
		return nil, fmt.Errorf("role %q cannot assign staff: %w", ident.Role, ErrForbidden)
	}
	if strings.TrimSpace(username) == "" {
		return nil, NewValidationError("username", "this field is required")
	}
	rest, err := s.store.GetRestaurantByOwner(ctx, ident.UserID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user.Role != domain.RoleStaff {
		return nil, NewValidationError("username", "user is not staff")
	}
	if user.RestaurantID != nil && *user.RestaurantID != rest.ID {
		return nil, fmt.Errorf("staff %q works for restaurant %d: %w", user.Username, *user.RestaurantID, ErrConflict)
	}

	if err := s.store.SetUserRestaurant(ctx, user.ID, rest.ID); err != nil {
		return nil, err
	}
	user.RestaurantID = &rest.ID

	s.logger.Info("staff assigned", zap.Int("user_id", user.ID), zap.Int("restaurant_id", rest.ID))
	return user, nil
}

// EnsureAdmin creates the admin account when it does not exist yet. An
// existing user with that name is left untouched.
func (s *IdentityService) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	admin := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		return err
	}
	s.logger.Info("admin user created", zap.String("username", username))
	return nil
}
