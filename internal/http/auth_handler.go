package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auth-backend/internal/service"
)

// AuthHandler mantiene dependencias para los endpoints de autenticacion.
type AuthHandler struct {
	logger   *zap.Logger
	authServ *service.AuthService
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, authServ *service.AuthService) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		authServ: authServ,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
		return
	}

	user, err := h.authServ.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateEmail):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, service.ErrMissingFields), errors.Is(err, service.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
		default:
			h.logger.Error("register failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not register user"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": gin.H{"id": user.ID, "email": user.Email}})
}

// RegisterFederated maneja POST /auth/register/federated.
func (h *AuthHandler) RegisterFederated(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		Name        string `json:"name" binding:"required"`
		FederatedID string `json:"federated_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid federated register request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing federated account details"})
		return
	}

	user, err := h.authServ.RegisterFederated(c.Request.Context(), req.Email, req.Name, req.FederatedID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingFields), errors.Is(err, service.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing federated account details"})
		default:
			h.logger.Error("federated register failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not register federated user"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": gin.H{"id": user.ID, "email": user.Email}})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing fields"})
		return
	}

	user, err := h.authServ.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not login"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": gin.H{"email": user.Email}})
}

// Recover maneja POST /auth/recover.
func (h *AuthHandler) Recover(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid recover request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	err := h.authServ.Recover(c.Request.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account does not exist"})
		case errors.Is(err, service.ErrFederatedAccount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "account uses provider login"})
		case errors.Is(err, service.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		case errors.Is(err, service.ErrEmailSendFailure):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "email delivery unavailable"})
		default:
			h.logger.Error("recover failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send recovery code"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recovery_code_sent"})
}

// VerifyCode maneja POST /auth/verify-code.
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid verify code request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email or code"})
		return
	}

	resetToken, err := h.authServ.VerifyCode(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, service.ErrCodeInvalid) || errors.Is(err, service.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired code"})
			return
		}
		h.logger.Error("verify code failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not verify code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "code_verified", "reset_token": resetToken})
}

// ResetPassword maneja POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		NewPassword string `json:"new_password" binding:"required"`
		ResetToken  string `json:"reset_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email or new password"})
		return
	}

	err := h.authServ.ResetPassword(c.Request.Context(), req.Email, req.NewPassword, req.ResetToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotVerified):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "recovery not verified"})
		case errors.Is(err, service.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrMissingFields), errors.Is(err, service.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing email or new password"})
		default:
			h.logger.Error("reset password failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not reset password"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "password_updated"})
}
