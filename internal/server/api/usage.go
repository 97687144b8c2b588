package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/quota"
)

// usageResponse leaves Limit and Remaining null for unlimited plans.
type usageResponse struct {
	Kind      string     `json:"kind"`
	Plan      string     `json:"plan,omitempty"`
	State     string     `json:"state"`
	Used      int        `json:"used"`
	Limit     *int       `json:"limit"`
	Remaining *int       `json:"remaining"`
	Unlimited bool       `json:"unlimited"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

func toUsageResponse(id identity.Identity, d quota.Decision, plan string) usageResponse {
	resp := usageResponse{
		Kind:      id.Kind.String(),
		Plan:      plan,
		State:     d.State.String(),
		Used:      d.Used,
		Unlimited: d.Unlimited,
	}
	if !d.Unlimited {
		limit, remaining := d.Limit, d.Remaining()
		resp.Limit = &limit
		resp.Remaining = &remaining
	}
	if !d.ResetAt.IsZero() {
		at := d.ResetAt.UTC()
		resp.ResetAt = &at
	}
	return resp
}

func (h *Handler) getUsage(c *gin.Context) {
	id := identityFrom(c)

	decision, tier, err := h.usage.Status(c.Request.Context(), id)
	if errors.Is(err, quota.ErrUnknownIdentity) {
		if err := h.resolver.Logout(c.Writer, c.Request); err != nil {
			logger.Warn("failed to clear stale session", "identity", id.String(), "error", err)
		}
		apierr.Unauthorized(c, "user not logged in")
		return
	}
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to load usage", err)
		return
	}

	plan := ""
	if tier != nil {
		plan = tier.Name
	}
	c.JSON(http.StatusOK, toUsageResponse(id, decision, plan))
}
