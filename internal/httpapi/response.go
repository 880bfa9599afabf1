package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sswap/engine/internal/sswaperr"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	body := map[string]any{"success": false, "message": message}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

// writeAppError maps a domain error (ideally a *sswaperr.Error) onto the
// standard error envelope and HTTP status table from spec §6/§7.
func writeAppError(w http.ResponseWriter, err error) {
	if coded, ok := sswaperr.As(err); ok {
		body := map[string]any{"success": false, "message": coded.Message}
		if coded.Code != "" {
			body["code"] = coded.Code
		}
		if maxOrder, ok := coded.Fields["maxOrderNGN"]; ok {
			body["maxOrderNGN"] = maxOrder
		}
		writeJSON(w, sswaperr.HTTPStatus(coded.Kind), body)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error(), "")
}

func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	return dec.Decode(dst)
}
