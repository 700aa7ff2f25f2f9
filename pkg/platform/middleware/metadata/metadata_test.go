package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"portal/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	cases := map[string]struct {
		remote     string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		"ipv4 remote addr":        {remote: "192.0.2.1:5555", want: "192.0.2.1"},
		"ipv6 remote addr":        {remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		"forwarded ignored":       {remote: "10.0.0.2:80", headers: map[string]string{"X-Forwarded-For": "198.51.100.9"}, want: "10.0.0.2"},
		"forwarded first hop":     {remote: "10.0.0.2:80", headers: map[string]string{"X-Forwarded-For": " 198.51.100.9 , 10.0.0.1"}, trustProxy: true, want: "198.51.100.9"},
		"real ip when no forward": {remote: "10.0.0.2:80", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, trustProxy: true, want: "198.51.100.7"},
		"missing remote":          {want: "unknown"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIPFromRequest(r, tc.trustProxy))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	var ip, ua string
	h := ClientMetadata(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		ua = requestcontext.UserAgent(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.4:1234"
	r.Header.Set("User-Agent", "portal-test/1.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "192.0.2.4", ip)
	assert.Equal(t, "portal-test/1.0", ua)
}
