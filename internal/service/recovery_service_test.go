package service

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-backend/internal/domain"
	"auth-backend/internal/repository"
)

type mockUserRepo struct {
	usersByID    map[string]domain.User
	usersByEmail map[string]string
	createErr    error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.usersByEmail[user.Email]; exists {
		return repository.ErrDuplicateEmail
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	id, ok := m.usersByEmail[email]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(context.Background(), id)
}

func (m *mockUserRepo) UpdatePasswordHash(_ context.Context, email, passwordHash string) error {
	id, ok := m.usersByEmail[email]
	if !ok {
		return pgx.ErrNoRows
	}
	user := m.usersByID[id]
	user.PasswordHash = passwordHash
	m.usersByID[id] = user
	return nil
}

type mockCodeRepo struct {
	codes []domain.RecoveryCode
}

func newMockCodeRepo() *mockCodeRepo {
	return &mockCodeRepo{}
}

func (m *mockCodeRepo) Create(_ context.Context, code domain.RecoveryCode) error {
	m.codes = append(m.codes, code)
	return nil
}

func (m *mockCodeRepo) GetLatestActive(_ context.Context, email, code string, now time.Time) (domain.RecoveryCode, error) {
	var best domain.RecoveryCode
	found := false
	for _, rc := range m.codes {
		if rc.Email != email || rc.Code != code || rc.Used {
			continue
		}
		// Ventana inclusiva: vigente mientras expires_at >= now.
		if rc.ExpiresAt.Before(now) {
			continue
		}
		if !found || rc.CreatedAt.After(best.CreatedAt) {
			best = rc
			found = true
		}
	}
	if !found {
		return domain.RecoveryCode{}, pgx.ErrNoRows
	}
	return best, nil
}

func (m *mockCodeRepo) MarkUsed(_ context.Context, id string) (bool, error) {
	for i, rc := range m.codes {
		if rc.ID == id {
			if rc.Used {
				return false, nil
			}
			m.codes[i].Used = true
			return true, nil
		}
	}
	return false, nil
}

type mockEmailSender struct {
	lastTo      string
	lastCode    string
	lastExpires time.Time
	err         error
}

func (m *mockEmailSender) SendRecoveryCode(_ context.Context, toEmail string, code string, expiresAt time.Time) error {
	m.lastTo = toEmail
	m.lastCode = code
	m.lastExpires = expiresAt
	if m.err != nil {
		return m.err
	}
	return nil
}

func addLocalUser(t *testing.T, repo *mockUserRepo, emailAddr string) {
	t.Helper()
	err := repo.Create(context.Background(), domain.User{
		ID:            "u-" + emailAddr,
		Email:         emailAddr,
		PasswordHash:  "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		RegisteredVia: "local",
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
}

func TestRecoveryServiceIssue_Success(t *testing.T) {
	users := newMockUserRepo()
	codes := newMockCodeRepo()
	sender := &mockEmailSender{}
	addLocalUser(t, users, "u@test.com")
	svc := NewRecoveryService(zap.NewNop(), users, codes, sender, nil)

	start := time.Now().UTC()
	if err := svc.Issue(context.Background(), "u@test.com"); err != nil {
		t.Fatalf("expected issue success, got %v", err)
	}
	if sender.lastTo != "u@test.com" {
		t.Fatalf("expected code mailed to u@test.com, got %s", sender.lastTo)
	}
	if !isValidRecoveryCode(sender.lastCode) {
		t.Fatalf("expected 6-digit code, got %q", sender.lastCode)
	}
	if len(codes.codes) != 1 {
		t.Fatalf("expected one stored code, got %d", len(codes.codes))
	}
	stored := codes.codes[0]
	if stored.Used {
		t.Fatalf("expected stored code unused")
	}
	if stored.Code != sender.lastCode {
		t.Fatalf("expected stored code to match mailed code")
	}
	if stored.ExpiresAt.Before(start.Add(9 * time.Minute)) {
		t.Fatalf("expected expiry at least 9 minutes ahead, got %v", stored.ExpiresAt)
	}
	if stored.ExpiresAt.After(start.Add(11 * time.Minute)) {
		t.Fatalf("expected expiry around 10 minutes, got %v", stored.ExpiresAt)
	}
}

func TestRecoveryServiceIssue_AccountNotFound(t *testing.T) {
	svc := NewRecoveryService(zap.NewNop(), newMockUserRepo(), newMockCodeRepo(), &mockEmailSender{}, nil)

	err := svc.Issue(context.Background(), "missing@test.com")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRecoveryServiceIssue_FederatedAccount(t *testing.T) {
	users := newMockUserRepo()
	if err := users.Create(context.Background(), domain.User{
		ID:            "u1",
		Email:         "fed@test.com",
		FederatedID:   "google-sub-1",
		RegisteredVia: "federated",
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	codes := newMockCodeRepo()
	svc := NewRecoveryService(zap.NewNop(), users, codes, &mockEmailSender{}, nil)

	err := svc.Issue(context.Background(), "fed@test.com")
	if !errors.Is(err, ErrFederatedAccount) {
		t.Fatalf("expected ErrFederatedAccount, got %v", err)
	}
	if len(codes.codes) != 0 {
		t.Fatalf("expected no code issued for federated account")
	}
}

func TestRecoveryServiceIssue_EmailFailureKeepsCode(t *testing.T) {
	users := newMockUserRepo()
	codes := newMockCodeRepo()
	sender := &mockEmailSender{err: errors.New("smtp down")}
	addLocalUser(t, users, "u@test.com")
	svc := NewRecoveryService(zap.NewNop(), users, codes, sender, nil)

	err := svc.Issue(context.Background(), "u@test.com")
	if !errors.Is(err, ErrEmailSendFailure) {
		t.Fatalf("expected ErrEmailSendFailure, got %v", err)
	}
	if len(codes.codes) != 1 {
		t.Fatalf("expected code row to survive dispatch failure")
	}

	// Si el correo llega tarde por otra via, el codigo sigue siendo usable.
	if err := svc.Verify(context.Background(), "u@test.com", codes.codes[0].Code); err != nil {
		t.Fatalf("expected code still verifiable, got %v", err)
	}
}

func TestRecoveryServiceIssue_RateLimited(t *testing.T) {
	users := newMockUserRepo()
	addLocalUser(t, users, "u@test.com")
	limiter := NewRecoverRateLimiter(time.Minute, 1)
	svc := NewRecoveryService(zap.NewNop(), users, newMockCodeRepo(), &mockEmailSender{}, limiter)

	if err := svc.Issue(context.Background(), "u@test.com"); err != nil {
		t.Fatalf("expected first issue to pass, got %v", err)
	}
	err := svc.Issue(context.Background(), "u@test.com")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRecoveryServiceVerify_SingleUse(t *testing.T) {
	users := newMockUserRepo()
	codes := newMockCodeRepo()
	sender := &mockEmailSender{}
	addLocalUser(t, users, "a@x.com")
	svc := NewRecoveryService(zap.NewNop(), users, codes, sender, nil)

	if err := svc.Issue(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("expected issue success, got %v", err)
	}
	code := sender.lastCode

	if err := svc.Verify(context.Background(), "a@x.com", code); err != nil {
		t.Fatalf("expected first verify to succeed, got %v", err)
	}
	if !codes.codes[0].Used {
		t.Fatalf("expected code marked used after verification")
	}

	err := svc.Verify(context.Background(), "a@x.com", code)
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid on reuse, got %v", err)
	}
}

func TestRecoveryServiceVerify_WrongCodeOrEmail(t *testing.T) {
	users := newMockUserRepo()
	codes := newMockCodeRepo()
	sender := &mockEmailSender{}
	addLocalUser(t, users, "a@x.com")
	svc := NewRecoveryService(zap.NewNop(), users, codes, sender, nil)

	if err := svc.Issue(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("expected issue success, got %v", err)
	}

	wrong := "000000"
	if wrong == sender.lastCode {
		wrong = "000001"
	}
	if err := svc.Verify(context.Background(), "a@x.com", wrong); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for wrong code, got %v", err)
	}
	if err := svc.Verify(context.Background(), "other@x.com", sender.lastCode); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for wrong email, got %v", err)
	}
}

func TestRecoveryServiceVerify_Expired(t *testing.T) {
	users := newMockUserRepo()
	codes := newMockCodeRepo()
	addLocalUser(t, users, "a@x.com")
	svc := NewRecoveryService(zap.NewNop(), users, codes, &mockEmailSender{}, nil)

	now := time.Now().UTC()
	if err := codes.Create(context.Background(), domain.RecoveryCode{
		ID:        "rc1",
		Email:     "a@x.com",
		Code:      "123456",
		CreatedAt: now.Add(-11 * time.Minute),
		ExpiresAt: now.Add(-1 * time.Minute),
	}); err != nil {
		t.Fatalf("create code failed: %v", err)
	}

	err := svc.Verify(context.Background(), "a@x.com", "123456")
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for expired code, got %v", err)
	}
	if codes.codes[0].Used {
		t.Fatalf("expected expired code to stay untouched")
	}
}

func TestRecoveryServiceVerify_MalformedCode(t *testing.T) {
	svc := NewRecoveryService(zap.NewNop(), newMockUserRepo(), newMockCodeRepo(), &mockEmailSender{}, nil)

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456"} {
		err := svc.Verify(context.Background(), "a@x.com", code)
		if !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("expected ErrCodeInvalid for %q, got %v", code, err)
		}
	}
}

// La ventana es inclusiva: una fila con expires_at igual al instante de la
// consulta sigue vigente. Mismo predicado que el WHERE expires_at >= $3.
func TestRecoveryCodeExpiryBoundaryInclusive(t *testing.T) {
	codes := newMockCodeRepo()
	now := time.Now().UTC()
	if err := codes.Create(context.Background(), domain.RecoveryCode{
		ID:        "rc1",
		Email:     "a@x.com",
		Code:      "123456",
		CreatedAt: now.Add(-10 * time.Minute),
		ExpiresAt: now,
	}); err != nil {
		t.Fatalf("create code failed: %v", err)
	}

	if _, err := codes.GetLatestActive(context.Background(), "a@x.com", "123456", now); err != nil {
		t.Fatalf("expected code valid at exactly expires_at, got %v", err)
	}
	if _, err := codes.GetLatestActive(context.Background(), "a@x.com", "123456", now.Add(time.Second)); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected code invalid past expires_at, got %v", err)
	}
}

func TestRecoveryServiceVerify_PicksMostRecent(t *testing.T) {
	users := newMockUserRepo()
	codes := newMockCodeRepo()
	addLocalUser(t, users, "a@x.com")
	svc := NewRecoveryService(zap.NewNop(), users, codes, &mockEmailSender{}, nil)

	now := time.Now().UTC()
	for i, id := range []string{"old", "new"} {
		if err := codes.Create(context.Background(), domain.RecoveryCode{
			ID:        id,
			Email:     "a@x.com",
			Code:      "123456",
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			ExpiresAt: now.Add(10 * time.Minute),
		}); err != nil {
			t.Fatalf("create code failed: %v", err)
		}
	}

	if err := svc.Verify(context.Background(), "a@x.com", "123456"); err != nil {
		t.Fatalf("expected verify success, got %v", err)
	}
	if codes.codes[0].Used || !codes.codes[1].Used {
		t.Fatalf("expected most recent row to be consumed, got old=%v new=%v", codes.codes[0].Used, codes.codes[1].Used)
	}

	// El codigo viejo sin usar sigue vivo hasta su propia expiracion.
	if err := svc.Verify(context.Background(), "a@x.com", "123456"); err != nil {
		t.Fatalf("expected older unused code still valid, got %v", err)
	}
}

func TestGenerateRecoveryCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateRecoveryCode()
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if !unicode.IsDigit(r) {
				t.Fatalf("expected numeric code, got %q", code)
			}
		}
	}
}

func TestRecoverRateLimiterWindow(t *testing.T) {
	limiter := NewRecoverRateLimiter(time.Minute, 2)

	if !limiter.Allow("a@x.com") || !limiter.Allow("a@x.com") {
		t.Fatalf("expected first two requests allowed")
	}
	if limiter.Allow("a@x.com") {
		t.Fatalf("expected third request denied")
	}
	if !limiter.Allow("other@x.com") {
		t.Fatalf("expected independent key to be allowed")
	}
}
