package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-backend/internal/domain"
)

// RecoveryCodeRepository define el contrato de persistencia para codigos de
// recuperacion. Las filas son append-only; la unica mutacion es marcar uso.
type RecoveryCodeRepository interface {
	Create(ctx context.Context, code domain.RecoveryCode) error
	GetLatestActive(ctx context.Context, email, code string, now time.Time) (domain.RecoveryCode, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
}

// PgRecoveryCodeRepository implementa RecoveryCodeRepository usando pgxpool.
type PgRecoveryCodeRepository struct {
	pool *pgxpool.Pool
}

func NewPgRecoveryCodeRepository(pool *pgxpool.Pool) *PgRecoveryCodeRepository {
	return &PgRecoveryCodeRepository{pool: pool}
}

func (r *PgRecoveryCodeRepository) Create(ctx context.Context, code domain.RecoveryCode) error {
	const query = `
		INSERT INTO recovery_codes (id, email, code, used, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		code.ID,
		code.Email,
		code.Code,
		code.Used,
		code.CreatedAt,
		code.ExpiresAt,
	)
	return err
}

// GetLatestActive devuelve la fila mas reciente sin usar que coincide con
// (email, code) y sigue vigente. La ventana incluye expires_at exacto.
func (r *PgRecoveryCodeRepository) GetLatestActive(ctx context.Context, email, code string, now time.Time) (domain.RecoveryCode, error) {
	const query = `
		SELECT id, email, code, used, created_at, expires_at
		FROM recovery_codes
		WHERE email = $1 AND code = $2 AND used = FALSE AND expires_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	var rc domain.RecoveryCode
	err := r.pool.QueryRow(ctx, query, email, code, now).Scan(
		&rc.ID,
		&rc.Email,
		&rc.Code,
		&rc.Used,
		&rc.CreatedAt,
		&rc.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RecoveryCode{}, err
	}
	return rc, err
}

// MarkUsed pone used=true de forma condicional. Devuelve false si otra
// request gano la carrera y la fila ya estaba usada.
func (r *PgRecoveryCodeRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE recovery_codes
		SET used = TRUE
		WHERE id = $1 AND used = FALSE
	`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
