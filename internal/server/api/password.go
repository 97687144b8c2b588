package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/store"
)

const resetSubject = "Password Reset Request"

type resetRequest struct {
	Email string `json:"email" binding:"required,email,max=255"`
}

type newPasswordRequest struct {
	Password        string `json:"password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required,eqfield=Password"`
}

// requestReset always answers 200 so the endpoint cannot be used to probe
// which emails are registered.
func (h *Handler) requestReset(c *gin.Context) {
	var req resetRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	ok := messageResponse{Message: "if that email is registered, a reset link has been sent"}

	u, err := h.store.Users().GetByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, ok)
		return
	}
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to look up email", err)
		return
	}

	token, err := h.store.ResetTokens().Create(ctx, u.ID, ResetTokenTTL)
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to create reset token", err)
		return
	}

	body := fmt.Sprintf("Please click the link to reset your password: %s/reset/%s", h.baseURL, token)
	if err := h.mailer.Send(ctx, u.Email, resetSubject, body); err != nil {
		logger.ErrorErr(err, "failed to send reset email", "username", u.Username)
	}
	c.JSON(http.StatusOK, ok)
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req newPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	hash, ok := hashPassword(c, req.Password)
	if !ok {
		return
	}

	userID, err := h.store.ResetTokens().Consume(ctx, c.Param("token"), h.now())
	if errors.Is(err, store.ErrNotFound) {
		apierr.NotFound(c, "reset token")
		return
	}
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to verify reset token", err)
		return
	}

	if err := h.store.Users().SetPassword(ctx, userID, hash); err != nil {
		apierr.ServiceUnavailable(c, "failed to update password", err)
		return
	}

	logger.Info("password reset", "user_id", userID)
	c.JSON(http.StatusOK, messageResponse{Message: "password has been reset, please log in"})
}
