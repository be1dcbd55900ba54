package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/platform"
	"subscription-api/internal/response"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrProductNotFound),
		errors.Is(err, services.ErrRemediationNotFound):
		return http.StatusNotFound
	case errors.Is(err, platform.ErrVerificationFailed),
		errors.Is(err, platform.ErrDecode),
		errors.Is(err, services.ErrUnsupportedPlatform):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNoActiveSubscription),
		errors.Is(err, services.ErrSweepInProgress),
		errors.Is(err, services.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, platform.ErrVerificationUnavailable),
		errors.Is(err, database.ErrPersistenceConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logging.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		response.ErrorJSON(c, code, "Internal server error")
		return
	}
	response.ErrorJSON(c, code, err.Error())
}

func parseID(c *gin.Context, value, name string) (uint, bool) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		response.ErrorJSON(c, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// parseDateRange reads optional from/to query params as dates or RFC 3339
// timestamps. A bare to date is inclusive.
func parseDateRange(c *gin.Context) (services.DateRange, bool) {
	var r services.DateRange
	for _, p := range []struct {
		name string
		dst  **time.Time
		end  bool
	}{{"from", &r.From, false}, {"to", &r.To, true}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			day, dayErr := time.Parse("2006-01-02", raw)
			if dayErr != nil {
				response.ErrorJSON(c, http.StatusBadRequest, p.name+" must be YYYY-MM-DD or RFC 3339")
				return r, false
			}
			t = day
			if p.end {
				t = day.AddDate(0, 0, 1)
			}
		}
		t = t.UTC()
		*p.dst = &t
	}
	return r, true
}
