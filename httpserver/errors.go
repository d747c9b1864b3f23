package httpserver

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// StatusTooEarly is returned while a recovery gate is still closed.
const StatusTooEarly = http.StatusTooEarly

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	Kind          string `json:"kind"`
	RemainingDays int    `json:"remainingDays,omitempty"`
	RetryAfter    int    `json:"retryAfterSeconds,omitempty"`
}

// statusFor maps an error kind onto an HTTP status code.
func statusFor(err error) int {
	switch interfaces.KindOf(err) {
	case interfaces.KindValidation:
		return http.StatusBadRequest
	case interfaces.KindAuthentication:
		return http.StatusUnauthorized
	case interfaces.KindState:
		return http.StatusConflict
	case interfaces.KindNotFound:
		return http.StatusNotFound
	case interfaces.KindGateNotSatisfied:
		return StatusTooEarly
	case interfaces.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error: err.Error(),
		Code:  interfaces.CodeOf(err),
		Kind:  string(interfaces.KindOf(err)),
	}

	var (
		rl *interfaces.RateLimitedError
		tl *interfaces.TimelockNotExpiredError
		dm *interfaces.DeadmanNotTriggeredError
	)
	switch {
	case errors.As(err, &rl):
		resp.RetryAfter = int(math.Ceil(rl.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	case errors.As(err, &tl):
		resp.RemainingDays = tl.RemainingDays
	case errors.As(err, &dm):
		resp.RemainingDays = dm.RemainingDays
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "path", r.URL.Path, "err", err)
		resp.Error = "internal error"
		if interfaces.KindOf(err) == interfaces.KindIntegrity {
			resp.Error = err.Error()
		}
	} else {
		h.log.Debug("Request rejected", "path", r.URL.Path, "code", resp.Code)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
