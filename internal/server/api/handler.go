// Package api provides the account, plan and usage REST handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/mailer"
	"github.com/ayusman/handsign/internal/quota"
	"github.com/ayusman/handsign/internal/store"
)

// ResetTokenTTL is how long a password reset link stays valid.
const ResetTokenTTL = time.Hour

const (
	identityKey = "identity"
	userKey     = "user"
)

// UsageReporter reports the quota state of an identity.
type UsageReporter interface {
	Status(ctx context.Context, id identity.Identity) (quota.Decision, *quota.Tier, error)
}

// Config holds the dependencies of a Handler.
type Config struct {
	Store    *store.Store
	Resolver *identity.Resolver
	Usage    UsageReporter
	Mailer   mailer.Mailer
	// BaseURL prefixes password reset links.
	BaseURL string
}

// Handler serves the /api routes other than health.
type Handler struct {
	store    *store.Store
	resolver *identity.Resolver
	usage    UsageReporter
	mailer   mailer.Mailer
	baseURL  string
	now      func() time.Time
}

// New creates a Handler.
func New(cfg Config) *Handler {
	return &Handler{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		usage:    cfg.Usage,
		mailer:   cfg.Mailer,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		now:      time.Now,
	}
}

// Register mounts the handlers on rg, which is expected to be the /api group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	auth.POST("/register", h.register)
	auth.POST("/login", h.login)
	auth.POST("/logout", h.logout)

	rg.GET("/plans", h.listPlans)
	rg.GET("/usage", h.identify, h.getUsage)

	password := rg.Group("/password")
	password.POST("/reset", h.requestReset)
	password.POST("/reset/:token", h.resetPassword)

	account := rg.Group("/account", h.identify, h.requireUser)
	account.GET("", h.getAccount)
	account.DELETE("", h.deleteAccount)

	rg.POST("/plans/purchase", h.identify, h.requireUser, h.purchase)
}

// identify resolves the caller, creating a guest session when needed.
func (h *Handler) identify(c *gin.Context) {
	id, err := h.resolver.Resolve(c.Writer, c.Request)
	if err != nil {
		apierr.Internal(c, "failed to resolve session", err)
		c.Abort()
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

// requireUser loads the registered user behind the session. A session whose
// user no longer exists is cleared.
func (h *Handler) requireUser(c *gin.Context) {
	id := identityFrom(c)
	if id.IsGuest() {
		apierr.Unauthorized(c, "user not logged in")
		c.Abort()
		return
	}

	u, err := h.store.Users().GetByUsername(c.Request.Context(), id.ID)
	if errors.Is(err, store.ErrNotFound) {
		if err := h.resolver.Logout(c.Writer, c.Request); err != nil {
			logger.Warn("failed to clear stale session", "identity", id.String(), "error", err)
		}
		apierr.Unauthorized(c, "user not logged in")
		c.Abort()
		return
	}
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to load user", err)
		c.Abort()
		return
	}

	c.Set(userKey, u)
	c.Next()
}

func identityFrom(c *gin.Context) identity.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(identity.Identity)
	return id
}

func userFrom(c *gin.Context) *store.User {
	v, _ := c.Get(userKey)
	u, _ := v.(*store.User)
	return u
}

// maxPasswordBytes is the longest input bcrypt accepts. The max tag counts
// characters, so multi-byte passwords are caught by hashPassword.
const maxPasswordBytes = 72

// hashPassword answers 400 for passwords bcrypt refuses and 500 otherwise.
func hashPassword(c *gin.Context, password string) (string, bool) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		apierr.Validation(c, fmt.Sprintf("password exceeds the maximum length of %d bytes", maxPasswordBytes))
		return "", false
	}
	if err != nil {
		apierr.Internal(c, "failed to hash password", err)
		return "", false
	}
	return string(hash), true
}

// bindJSON decodes the body into dst and answers 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			apierr.Validation(c, validationMessage(verrs))
			return false
		}
		apierr.BadRequest(c, "invalid request body", err)
		return false
	}
	return true
}

func validationMessage(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldName(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, "invalid email format")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters long", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds the maximum length of %s characters", field, fe.Param()))
		case "len":
			msgs = append(msgs, fmt.Sprintf("%s must be exactly %s characters", field, fe.Param()))
		case "eqfield":
			msgs = append(msgs, "passwords do not match")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// fieldName turns a Go field name such as ConfirmPassword into confirm_password.
func fieldName(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		upper := r >= 'A' && r <= 'Z'
		if upper {
			if prevLower {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		prevLower = !upper
		b.WriteRune(r)
	}
	return b.String()
}
