package api

import (
	"context"
	"strconv"

	"subscription-api/internal/response"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
)

type commissionQuery func(ctx context.Context, id uint, r services.DateRange) (*services.CommissionSummary, error)

func (h *Handler) commission(c *gin.Context, query commissionQuery) {
	id, ok := parseID(c, c.Param("id"), "id")
	if !ok {
		return
	}
	r, ok := parseDateRange(c)
	if !ok {
		return
	}

	summary, err := query(c.Request.Context(), id, r)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, summary)
}

// DistributorCommission GET /api/commission/distributors/:id
func (h *Handler) DistributorCommission(c *gin.Context) {
	h.commission(c, h.commissions.DistributorCommission)
}

// PasscodeCommission GET /api/commission/passcodes/:id
func (h *Handler) PasscodeCommission(c *gin.Context) {
	h.commission(c, h.commissions.PasscodeCommission)
}

// BookCommission GET /api/commission/books/:id
func (h *Handler) BookCommission(c *gin.Context) {
	h.commission(c, h.commissions.BookCommission)
}

// Leaderboard GET /api/reports/leaderboard?limit=10
func (h *Handler) Leaderboard(c *gin.Context) {
	r, ok := parseDateRange(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 0 {
		limit = 10
	}

	entries, err := h.commissions.Leaderboard(c.Request.Context(), r, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, entries)
}

// RevenueTrend GET /api/reports/revenue-trend
func (h *Handler) RevenueTrend(c *gin.Context) {
	r, ok := parseDateRange(c)
	if !ok {
		return
	}

	points, err := h.commissions.RevenueTrend(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, points)
}

// PlatformDistribution GET /api/reports/platforms
func (h *Handler) PlatformDistribution(c *gin.Context) {
	r, ok := parseDateRange(c)
	if !ok {
		return
	}

	shares, err := h.commissions.PlatformDistribution(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, shares)
}
