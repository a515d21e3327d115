package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/fleetflow/pkg/flowerrors"
)

type healthResponse struct {
	Status  string   `json:"status"`
	Workers []string `json:"workers"`
}

func healthHandler(rt Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Workers: rt.Workers})
	}
}

func flowHandler(rt Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		if sessionID == "" {
			writeError(w, http.StatusBadRequest, "missing session_id")
			return
		}

		store := rt.StoreOpen.Open(sessionID, rt.Queue, rt.Token)
		fl, err := store.LoadFlowRecord(r.Context())
		if err != nil {
			if flowerrors.IsNotFoundError(err) {
				writeError(w, http.StatusNotFound, "flow not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, fl)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
