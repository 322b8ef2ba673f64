package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ResetTokenService emite y consume pruebas firmadas de verificacion. Un
// token valido es la unica evidencia aceptada de que VerifyCode tuvo exito
// antes de permitir un cambio de contrasena.
type ResetTokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	store  ResetTokenStore
}

type ResetClaims struct {
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

var (
	ErrResetTokenInvalid = errors.New("reset token invalid")
	ErrResetTokenExpired = errors.New("reset token expired")
)

func NewResetTokenService(secret string, ttl time.Duration) *ResetTokenService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ResetTokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "auth-backend",
		store:  NewMemoryResetTokenStore(),
	}
}

func NewResetTokenServiceWithStore(secret string, ttl time.Duration, store ResetTokenStore) *ResetTokenService {
	svc := NewResetTokenService(secret, ttl)
	if store != nil {
		svc.store = store
	}
	return svc
}

// Issue firma un token de un solo uso ligado al email verificado.
func (s *ResetTokenService) Issue(emailAddr string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrResetTokenInvalid
	}
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return "", ErrResetTokenInvalid
	}

	now := time.Now().UTC()
	jti := uuid.NewString()
	claims := ResetClaims{
		Email:     emailAddr,
		TokenType: "password_reset",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Subject:   emailAddr,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	if s.store != nil {
		if err := s.store.Store(jti, emailAddr, s.ttl); err != nil {
			return "", err
		}
	}
	return signed, nil
}

// Consume valida el token contra el email y revoca su jti: un mismo token
// nunca autoriza dos cambios de contrasena.
func (s *ResetTokenService) Consume(tokenString, emailAddr string) error {
	if len(s.secret) == 0 {
		return ErrResetTokenInvalid
	}
	if strings.TrimSpace(tokenString) == "" {
		return ErrResetTokenInvalid
	}
	emailAddr = normalizeEmail(emailAddr)

	claims, err := s.parseToken(tokenString)
	if err != nil {
		return err
	}
	if claims.TokenType != "password_reset" {
		return ErrResetTokenInvalid
	}
	if !s.isValidClaims(claims) {
		return ErrResetTokenInvalid
	}
	if claims.Email != emailAddr {
		return ErrResetTokenInvalid
	}
	if claims.ID == "" || s.store == nil {
		return ErrResetTokenInvalid
	}
	ok, err := s.store.Exists(claims.ID)
	if err != nil || !ok {
		return ErrResetTokenInvalid
	}
	return s.store.Revoke(claims.ID)
}

func (s *ResetTokenService) parseToken(tokenString string) (ResetClaims, error) {
	var claims ResetClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ResetClaims{}, ErrResetTokenExpired
		}
		return ResetClaims{}, ErrResetTokenInvalid
	}
	return claims, nil
}

func (s *ResetTokenService) isValidClaims(claims ResetClaims) bool {
	if strings.TrimSpace(claims.Email) == "" {
		return false
	}
	if claims.Subject != claims.Email {
		return false
	}
	return strings.TrimSpace(claims.Issuer) == s.issuer
}
