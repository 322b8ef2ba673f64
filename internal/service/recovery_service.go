package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-backend/internal/domain"
	"auth-backend/internal/email"
	"auth-backend/internal/repository"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrFederatedAccount = errors.New("federated account: use provider login")
	ErrCodeInvalid      = errors.New("invalid or expired code")
	ErrEmailSendFailure = errors.New("email send failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidEmail     = errors.New("invalid email")
)

const (
	recoveryCodeTTL        = 10 * time.Minute
	defaultDispatchTimeout = 10 * time.Second
)

// RecoveryService es el unico dueño del ciclo de vida de los codigos de
// recuperacion: los genera, persiste, valida y marca como usados.
type RecoveryService struct {
	logger          *zap.Logger
	users           repository.UserRepository
	codes           repository.RecoveryCodeRepository
	sender          email.Sender
	limiter         RecoverRateLimiter
	dispatchTimeout time.Duration
}

func NewRecoveryService(logger *zap.Logger, users repository.UserRepository, codes repository.RecoveryCodeRepository, sender email.Sender, limiter RecoverRateLimiter) *RecoveryService {
	if limiter == nil {
		limiter = NewRecoverRateLimiter(recoveryCodeTTL, 3)
	}
	return &RecoveryService{
		logger:          logger,
		users:           users,
		codes:           codes,
		sender:          sender,
		limiter:         limiter,
		dispatchTimeout: defaultDispatchTimeout,
	}
}

// Issue crea un codigo nuevo para la cuenta y lo despacha por correo. Los
// codigos anteriores sin usar siguen vivos hasta su propia expiracion.
func (s *RecoveryService) Issue(ctx context.Context, emailAddr string) error {
	if s.users == nil || s.codes == nil {
		return errors.New("recovery service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrInvalidEmail
	}

	if s.limiter != nil && !s.limiter.Allow(emailAddr) {
		return ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	if user.IsFederated() {
		return ErrFederatedAccount
	}

	code, err := generateRecoveryCode()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record := domain.RecoveryCode{
		ID:        uuid.NewString(),
		Email:     emailAddr,
		Code:      code,
		Used:      false,
		CreatedAt: now,
		ExpiresAt: now.Add(recoveryCodeTTL),
	}
	if err := s.codes.Create(ctx, record); err != nil {
		return err
	}

	if s.sender == nil {
		return ErrEmailSendFailure
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()
	if err := s.sender.SendRecoveryCode(sendCtx, emailAddr, code, record.ExpiresAt); err != nil {
		// La fila ya persistida queda vigente: si el correo llega tarde
		// el codigo sigue siendo usable dentro de su ventana.
		if s.logger != nil {
			s.logger.Warn("send recovery code failed", zap.Error(err), zap.String("email", emailAddr))
		}
		return ErrEmailSendFailure
	}

	return nil
}

// Verify busca el codigo vigente mas reciente para (email, code) y lo marca
// como usado. Toda falla colapsa en ErrCodeInvalid para no distinguir codigo
// equivocado de codigo expirado o reusado.
func (s *RecoveryService) Verify(ctx context.Context, emailAddr, submittedCode string) error {
	if s.codes == nil {
		return errors.New("recovery service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	submittedCode = strings.TrimSpace(submittedCode)
	if emailAddr == "" {
		return ErrInvalidEmail
	}
	if !isValidRecoveryCode(submittedCode) {
		return ErrCodeInvalid
	}

	now := time.Now().UTC()
	record, err := s.codes.GetLatestActive(ctx, emailAddr, submittedCode, now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCodeInvalid
		}
		return err
	}

	// El update condicional garantiza un solo exito entre verificaciones
	// concurrentes del mismo codigo.
	ok, err := s.codes.MarkUsed(ctx, record.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeInvalid
	}
	return nil
}

// generateRecoveryCode produce un codigo numerico de 6 digitos con
// distribucion uniforme desde crypto/rand.
func generateRecoveryCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidRecoveryCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// RecoverRateLimiter limita la frecuencia de solicitudes de recuperacion por clave.
type RecoverRateLimiter interface {
	Allow(key string) bool
}

type recoverRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
}

// NewRecoverRateLimiter crea un rate limiter en memoria.
func NewRecoverRateLimiter(window time.Duration, max int) RecoverRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &recoverRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
	}
}

func (l *recoverRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	kept = append(kept, now)
	l.hits[key] = kept
	return true
}
