package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the API routes. Only the ingest endpoint is authenticated;
// the query endpoints are open, matching the dashboard's access model.
func NewRouter(h *Handler, keys APIKeySet) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/readings", keys.Middleware(http.HandlerFunc(h.IngestReadings))).Methods("POST")
	api.HandleFunc("/meters", h.ListMeters).Methods("GET")
	api.HandleFunc("/meters/{meter_id}/latest", h.LatestSamples).Methods("GET")
	api.HandleFunc("/dashboard", h.Dashboard).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	})

	return r
}
