package daemon

import "net/http"

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.Health)
	mux.HandleFunc("/v1/runs", a.Runs)
	mux.HandleFunc("/v1/runs/", a.RunByID)
	mux.HandleFunc("/v1/metrics", a.Metrics)
	mux.HandleFunc("/v1/shutdown", a.ShutdownDaemon)
}
