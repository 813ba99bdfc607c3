package daemon

import "net/http"

func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	metrics, err := a.Service.Metrics(r.Context())
	if err != nil {
		writeServiceError(w, unavailableError("failed to read metrics", err))
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
