package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/store"
)

type registerRequest struct {
	Username string `json:"username" binding:"required,max=255"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"required,max=255"`
	Surname  string `json:"surname" binding:"required,max=255"`
}

func (r *registerRequest) trim() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Surname = strings.TrimSpace(r.Surname)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type accountResponse struct {
	Username       string            `json:"username"`
	Email          string            `json:"email"`
	Name           string            `json:"name"`
	Surname        string            `json:"surname"`
	Plan           planResponse      `json:"plan"`
	CreatedAt      string            `json:"created_at"`
	PaymentHistory []paymentResponse `json:"payment_history"`
	Usage          usageResponse     `json:"usage"`
}

type paymentResponse struct {
	Plan        string  `json:"plan"`
	Amount      float64 `json:"amount"`
	PaymentDate string  `json:"payment_date"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	req.trim()
	if req.Username == "" || req.Name == "" || req.Surname == "" {
		apierr.Validation(c, "all fields are required")
		return
	}

	hash, ok := hashPassword(c, req.Password)
	if !ok {
		return
	}

	u := &store.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Surname:      req.Surname,
	}
	err := h.store.Users().Create(c.Request.Context(), u, store.DefaultTierName)
	switch {
	case errors.Is(err, store.ErrConflict):
		apierr.Conflict(c, "username or email already exists")
		return
	case err != nil:
		apierr.ServiceUnavailable(c, "failed to create user", err)
		return
	}

	logger.Info("user registered", "username", u.Username, "tier", store.DefaultTierName)
	c.JSON(http.StatusCreated, messageResponse{Message: "registration successful, please log in"})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)

	u, err := h.store.Users().GetByUsername(c.Request.Context(), username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		apierr.ServiceUnavailable(c, "failed to load user", err)
		return
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		apierr.Unauthorized(c, "invalid username or password")
		return
	}

	if err := h.resolver.Login(c.Writer, c.Request, u.Username); err != nil {
		apierr.Internal(c, "failed to save session", err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Welcome, " + u.Username + "!"})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.resolver.Logout(c.Writer, c.Request); err != nil {
		apierr.Internal(c, "failed to clear session", err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) getAccount(c *gin.Context) {
	ctx := c.Request.Context()
	u := userFrom(c)

	tier, err := h.store.Tiers().GetByName(ctx, u.TierName)
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to load plan", err)
		return
	}
	payments, err := h.store.Payments().ListByUser(ctx, u.ID)
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to load payment history", err)
		return
	}
	decision, _, err := h.usage.Status(ctx, identityFrom(c))
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to load usage", err)
		return
	}

	resp := accountResponse{
		Username:       u.Username,
		Email:          u.Email,
		Name:           u.Name,
		Surname:        u.Surname,
		Plan:           toPlanResponse(tier),
		CreatedAt:      u.CreatedAt.UTC().Format(time.RFC3339),
		PaymentHistory: make([]paymentResponse, 0, len(payments)),
		Usage:          toUsageResponse(identityFrom(c), decision, tier.Name),
	}
	for _, p := range payments {
		resp.PaymentHistory = append(resp.PaymentHistory, paymentResponse{
			Plan:        p.TierName,
			Amount:      p.Amount,
			PaymentDate: p.CreatedAt.UTC().Format(time.DateOnly),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteAccount(c *gin.Context) {
	u := userFrom(c)

	err := h.store.Users().Delete(c.Request.Context(), u.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		apierr.ServiceUnavailable(c, "failed to delete account", err)
		return
	}
	if err := h.resolver.Logout(c.Writer, c.Request); err != nil {
		logger.Warn("failed to clear session after account deletion", "username", u.Username, "error", err)
	}

	logger.Info("account deleted", "username", u.Username)
	c.JSON(http.StatusOK, messageResponse{Message: "account deleted"})
}
