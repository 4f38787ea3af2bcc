package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeInternal      = "internal_error"
	ErrCodeValidation    = "validation_error"
	ErrCodeNotConnected  = "not_connected"
	ErrCodeTimeout       = "timeout"
	ErrCodePublishFailed = "publish_failed"
	ErrCodeUnavailable   = "unavailable"
)

// sessionErrors maps session send errors to responses, first match wins.
var sessionErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{connector.ErrNotConnected, http.StatusConflict, ErrCodeNotConnected, "gateway session is not connected"},
	{connector.ErrReleased, http.StatusConflict, ErrCodeNotConnected, "gateway session is not connected"},
	{connector.ErrTimeout, http.StatusGatewayTimeout, ErrCodeTimeout, "router did not acknowledge in time"},
	{connector.ErrPublish, http.StatusBadGateway, ErrCodePublishFailed, "message could not be published"},
}

// writeSessionError writes the response for a failed session send and
// reports whether err was one of the known session errors.
func writeSessionError(w http.ResponseWriter, err error) bool {
	for _, e := range sessionErrors {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code, e.message)
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
