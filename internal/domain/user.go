package domain

import "time"

// User representa una cuenta creada por registro local o federado.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	PasswordHash  string    `json:"-"`
	FederatedID   string    `json:"-"`
	RegisteredVia string    `json:"registered_via,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasLocalPassword indica si la cuenta puede autenticarse con contrasena.
func (u User) HasLocalPassword() bool {
	return u.PasswordHash != ""
}

// IsFederated indica si la cuenta pertenece a un proveedor externo.
func (u User) IsFederated() bool {
	return u.FederatedID != ""
}
