package domain

import "time"

// RecoveryCode es un codigo de un solo uso para recuperar la contrasena.
// Las filas nunca se borran; un codigo muere por uso o por expiracion.
type RecoveryCode struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
