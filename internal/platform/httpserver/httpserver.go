package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server. Write timeout stays unset: submissions wait on
// the validation authority and are bounded by the request timeout middleware.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
