package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/giantswarm/aifactory/internal/apperror"
)

type errorBody struct {
	Detail string `json:"detail"`
}

// writeError renders err as the canonical {"detail": "..."} body with
// the status apperror.Error.HTTPStatus() maps its Kind to (spec §6,
// §7). A non-*apperror.Error is treated as an internal failure.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()
	if ae, ok := apperror.As(err); ok {
		status = ae.HTTPStatus()
		message = ae.Message
		if ae.CorrelationID != "" {
			message += " (corr_id=" + ae.CorrelationID + ")"
		}
	}
	writeJSON(w, status, errorBody{Detail: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return apperror.BadRequest("invalid request body: %v", err)
	}
	return nil
}
