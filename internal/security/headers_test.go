package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsRouter(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware(origins))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestHeadersMiddleware_StampsEveryResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HeadersMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	for name, want := range responseHeaders {
		if got := w.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestCORSMiddleware_OriginHandling(t *testing.T) {
	cases := []struct {
		name    string
		origins []string
		request string
		allowed bool
	}{
		{"listed origin admitted", []string{"https://example.com"}, "https://example.com", true},
		{"wildcard admits anyone", []string{"*"}, "https://anything.dev", true},
		{"unlisted origin refused", []string{"https://example.com"}, "https://evil.test", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tc.request)
			corsRouter(tc.origins).ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin") != ""
			if got != tc.allowed {
				t.Fatalf("allow-origin present = %v, want %v", got, tc.allowed)
			}
		})
	}
}

func TestCORSMiddleware_WildcardNeverGrantsCredentials(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://anywhere.dev")
	corsRouter([]string{"*"}).ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("credentials header set alongside wildcard origins")
	}
}

func TestCORSMiddleware_PreflightShortCircuits(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://example.com")
	corsRouter([]string{"*"}).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("Access-Control-Allow-Methods missing from preflight")
	}
}

func TestValidateEndpointURL(t *testing.T) {
	cases := []struct {
		url   string
		valid bool
	}{
		{"https://8.8.8.8/v1/collect", true},
		{"http://1.1.1.1/v1/evaluate", true},

		{"ftp://factors.example.com", false},
		{"https://localhost/v1/collect", false},
		{"https://127.0.0.1/v1/collect", false},
		{"https://10.0.0.5/v1/collect", false},
		{"https://169.254.169.254/latest/meta-data", false},
		{"https://0.0.0.0/v1/collect", false},
		{"not a url at all://", false},
		{"https://", false},
	}
	for _, tc := range cases {
		err := ValidateEndpointURL(tc.url)
		if (err == nil) != tc.valid {
			t.Errorf("ValidateEndpointURL(%q) = %v, want valid=%v", tc.url, err, tc.valid)
		}
	}
}
