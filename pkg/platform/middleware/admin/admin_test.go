package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	serve := func(expected, presented string) int {
		r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		if presented != "" {
			r.Header.Set(HeaderAdminToken, presented)
		}
		w := httptest.NewRecorder()
		RequireAdminToken(expected, logger)(ok).ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve("", ""), "no token configured")
	assert.Equal(t, http.StatusOK, serve("s3cret", "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, serve("s3cret", "guess"))
	assert.Equal(t, http.StatusUnauthorized, serve("s3cret", ""))
}
