package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter mounts the handlers. /health is registered before /{id} so it
// is never treated as an object id.
func NewRouter(index, write, read http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware, loggingMiddleware)

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/", otelhttp.NewHandler(index, "GET /")).Methods("GET")
	router.Handle("/", otelhttp.NewHandler(write, "POST /")).Methods("POST")
	router.Handle("/{id}", otelhttp.NewHandler(read, "GET /{id}")).Methods("GET")

	return router
}
