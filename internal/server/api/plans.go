package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/store"
)

var expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/?[0-9]{2}$`)

type planResponse struct {
	Name       string  `json:"name"`
	DailyLimit *int    `json:"daily_limit"`
	Price      float64 `json:"price"`
}

func toPlanResponse(t *store.Tier) planResponse {
	return planResponse{Name: t.Name, DailyLimit: t.DailyLimit, Price: t.Price}
}

// purchaseRequest carries the plan and card details. Payment is assumed to
// succeed once the card details are well formed; they are never stored.
type purchaseRequest struct {
	Plan       string `json:"plan" binding:"required,max=255"`
	CardNumber string `json:"card_number" binding:"required,len=16,numeric"`
	CardName   string `json:"card_name" binding:"required,max=255"`
	ExpiryDate string `json:"expiry_date" binding:"required"`
	CVC        string `json:"cvc" binding:"required,min=3,max=4,numeric"`
}

func (r *purchaseRequest) check() string {
	for _, ch := range r.CardName {
		if !unicode.IsLetter(ch) && !unicode.IsSpace(ch) {
			return "card name should only contain letters and spaces"
		}
	}
	if !expiryPattern.MatchString(r.ExpiryDate) {
		return "invalid expiry date format, use MM/YY"
	}
	return ""
}

type purchaseResponse struct {
	Message string          `json:"message"`
	Plan    planResponse    `json:"plan"`
	Payment paymentResponse `json:"payment"`
}

func (h *Handler) listPlans(c *gin.Context) {
	tiers, err := h.store.Tiers().List(c.Request.Context())
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to load plans", err)
		return
	}

	resp := make([]planResponse, 0, len(tiers))
	for _, t := range tiers {
		resp = append(resp, toPlanResponse(t))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) purchase(c *gin.Context) {
	var req purchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Plan = strings.TrimSpace(req.Plan)
	req.CardName = strings.TrimSpace(req.CardName)
	if msg := req.check(); msg != "" {
		apierr.Validation(c, msg)
		return
	}

	ctx := c.Request.Context()
	u := userFrom(c)

	payment, err := h.store.Users().Purchase(ctx, u.ID, req.Plan)
	if errors.Is(err, store.ErrNotFound) {
		apierr.NotFound(c, "plan")
		return
	}
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to record purchase", err)
		return
	}

	tier, err := h.store.Tiers().GetByName(ctx, payment.TierName)
	if err != nil {
		apierr.ServiceUnavailable(c, "failed to load plan", err)
		return
	}

	logger.Info("plan purchased", "username", u.Username, "tier", tier.Name, "amount", payment.Amount)
	c.JSON(http.StatusOK, purchaseResponse{
		Message: "plan purchased and payment recorded",
		Plan:    toPlanResponse(tier),
		Payment: paymentResponse{
			Plan:        payment.TierName,
			Amount:      payment.Amount,
			PaymentDate: payment.CreatedAt.UTC().Format(time.DateOnly),
		},
	})
}
