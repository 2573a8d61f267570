package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/kalambet/paperqa/internal/apperr"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindRateLimit:     http.StatusTooManyRequests,
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindConfiguration: http.StatusUnprocessableEntity,
	apperr.KindUpstream:      http.StatusBadGateway,
	apperr.KindExpired:       http.StatusGone,
	apperr.KindPersistence:   http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if code, ok := kindStatus[apperr.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// writeError renders a classified error. Unclassified and persistence errors
// are logged and reported without detail.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	code := StatusFor(err)
	msg := err.Error()
	if kind == apperr.KindUnknown || kind == apperr.KindPersistence {
		slog.Error("request failed", "kind", kind, "error", err)
		msg = "internal error"
	}
	if d := apperr.RetryAfter(err); d > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
	}
	httpError(w, code, kind.String(), "%s", msg)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
