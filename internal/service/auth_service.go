package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-backend/internal/domain"
	"auth-backend/internal/password"
	"auth-backend/internal/repository"
)

var (
	ErrMissingFields      = errors.New("missing fields")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotVerified        = errors.New("recovery not verified")
)

// AuthService orquesta registro, login y el flujo de recuperacion. Nunca
// muta codigos de recuperacion directamente; eso es del RecoveryService.
type AuthService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	recovery    *RecoveryService
	resetTokens *ResetTokenService
}

func NewAuthService(logger *zap.Logger, users repository.UserRepository, recovery *RecoveryService, resetTokens *ResetTokenService) *AuthService {
	return &AuthService{
		logger:      logger,
		users:       users,
		recovery:    recovery,
		resetTokens: resetTokens,
	}
}

// Register crea una cuenta local. El hash se calcula antes del insert, asi
// que un insert fallido no deja ningun registro observable.
func (s *AuthService) Register(ctx context.Context, emailAddr, plainPassword, name string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("auth service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}
	if strings.TrimSpace(plainPassword) == "" {
		return domain.User{}, ErrMissingFields
	}

	hash, err := password.Hash(plainPassword)
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		ID:            uuid.NewString(),
		Email:         emailAddr,
		Name:          strings.TrimSpace(name),
		PasswordHash:  hash,
		RegisteredVia: "local",
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return user, nil
}

// RegisterFederated es un upsert idempotente por email. Si la cuenta ya
// existe se devuelve tal cual; una contrasena local nunca se pisa.
func (s *AuthService) RegisterFederated(ctx context.Context, emailAddr, name, federatedID string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("auth service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	name = strings.TrimSpace(name)
	federatedID = strings.TrimSpace(federatedID)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}
	if federatedID == "" || name == "" {
		return domain.User{}, ErrMissingFields
	}

	existing, err := s.users.GetByEmail(ctx, emailAddr)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, err
	}

	user := domain.User{
		ID:            uuid.NewString(),
		Email:         emailAddr,
		Name:          name,
		FederatedID:   federatedID,
		RegisteredVia: "federated",
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			// Carrera con otro upsert del mismo email: devolver el existente.
			return s.users.GetByEmail(ctx, emailAddr)
		}
		return domain.User{}, err
	}
	return user, nil
}

// Authenticate valida credenciales locales. Cuenta inexistente, cuenta sin
// contrasena y contrasena incorrecta responden con el mismo error.
func (s *AuthService) Authenticate(ctx context.Context, emailAddr, plainPassword string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("auth service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || strings.TrimSpace(plainPassword) == "" {
		return domain.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !user.HasLocalPassword() {
		return domain.User{}, ErrInvalidCredentials
	}
	if !password.Verify(user.PasswordHash, plainPassword) {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Recover delega en el motor de codigos de recuperacion.
func (s *AuthService) Recover(ctx context.Context, emailAddr string) error {
	if s.recovery == nil {
		return errors.New("auth service not configured")
	}
	return s.recovery.Issue(ctx, emailAddr)
}

// VerifyCode valida el codigo y emite la prueba firmada que habilita el
// cambio de contrasena. El codigo nunca se devuelve al cliente.
func (s *AuthService) VerifyCode(ctx context.Context, emailAddr, code string) (string, error) {
	if s.recovery == nil || s.resetTokens == nil {
		return "", errors.New("auth service not configured")
	}
	if err := s.recovery.Verify(ctx, emailAddr, code); err != nil {
		return "", err
	}
	return s.resetTokens.Issue(emailAddr)
}

// ResetPassword exige una prueba de verificacion vigente para el mismo
// email; el estado que reporte el cliente no cuenta.
func (s *AuthService) ResetPassword(ctx context.Context, emailAddr, newPassword, resetToken string) error {
	if s.users == nil || s.resetTokens == nil {
		return errors.New("auth service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrInvalidEmail
	}
	if strings.TrimSpace(newPassword) == "" {
		return ErrMissingFields
	}

	if err := s.resetTokens.Consume(resetToken, emailAddr); err != nil {
		return ErrNotVerified
	}

	if _, err := s.users.GetByEmail(ctx, emailAddr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, emailAddr, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}
