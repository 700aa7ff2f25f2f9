package httpserver

import (
	"net/http"
	"time"

	"portal/internal/platform/config"
)

// New builds the HTTP server from the server section of the config.
func New(cfg config.Server, handler http.Handler) *http.Server {
	readHeader := cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeader,
		IdleTimeout:       2 * time.Minute,
	}
}
