package server

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all HTTP endpoints. The admin surface (session enumeration
// and forced disconnect) requires the panel's service credentials; the
// console surface authenticates operators through the admission gate instead.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger)

	r.HandleFunc("/api/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/shell/ticket/{node}/{vmid:[0-9]+}", h.MintTicket).Methods("GET")
	r.HandleFunc("/api/shell/ws/{node}/{vmid:[0-9]+}", h.ConsoleWS).Methods("GET")

	admin := r.PathPrefix("/api/shell/sessions").Subrouter()
	admin.Use(ServiceAuth)
	admin.HandleFunc("", h.ListSessions).Methods("GET")
	admin.HandleFunc("/{id}", h.CloseSession).Methods("DELETE")

	return r
}
