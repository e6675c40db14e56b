package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-exception-handler/internal/config"
	"github.com/tbourn/go-exception-handler/internal/domain"
	"github.com/tbourn/go-exception-handler/internal/repo"
)

type envelope struct {
	ErrorCode *string `json:"errorCode"`
	Message   string  `json:"message"`
}

var codeRe = regexp.MustCompile(`^ERR_[0-9A-F]{8}$`)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "incidents.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:  "/api/v1",
		MaxBodyBytes: 1 << 20,
		RateRPS:      100,
		RateBurst:    100,
		OTEL:         config.OTELConfig{ServiceName: "test-svc"},
		Exceptions: config.ExceptionConfig{
			ErrorCodePrefix: "ERR_",
			JSONTimeFormat:  time.RFC3339Nano,
			JSONUTC:         true,
			JSONCamelCase:   true,
		},
	}
}

func newRouter(t *testing.T, db *gorm.DB, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, db, cfg)
	return r
}

func do(r http.Handler, method, target string, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q; want application/json (body=%s)", ct, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newRouter(t, nil, baseConfig())

	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = do(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → mapped 404 envelope
	w = do(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if env := decode(t, w); env.ErrorCode != nil || env.Message != "route not found" {
		t.Fatalf("404 body=%s", w.Body.String())
	}

	// NoMethod → mapped 405 envelope
	w = do(r, http.MethodPost, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	if env := decode(t, w); env.ErrorCode != nil || env.Message != "method not allowed" {
		t.Fatalf("405 body=%s", w.Body.String())
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEchoSurvivesErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newRouter(t, nil, cfg)

	origin := map[string]string{"Origin": "http://example.com"}
	w := do(r, http.MethodGet, "/health", "", origin)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = do(r, http.MethodGet, "/api/v1/exceptions/argumentnull", "", origin)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("argumentnull status=%d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("ACAO dropped from error response: %q", got)
	}
}

func TestRegisterRoutes_SampleEndpoints(t *testing.T) {
	r := newRouter(t, nil, baseConfig())

	t.Run("plain error is unmapped", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/exceptions", "", nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", w.Code)
		}
		env := decode(t, w)
		if env.ErrorCode == nil || !codeRe.MatchString(*env.ErrorCode) {
			t.Fatalf("errorCode=%v", env.ErrorCode)
		}
		if env.Message != "An unhandled exception has occurred, please check the log for details." {
			t.Fatalf("message=%q", env.Message)
		}
	})

	t.Run("argument null is mapped", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/exceptions/argumentnull", "", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", w.Code)
		}
		if got := w.Body.String(); got != `{"errorCode":null,"message":"Parameter required"}` {
			t.Fatalf("body=%s", got)
		}
	})

	t.Run("key not found sends opaque body", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/exceptions/keynotfound", "", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("status=%d", w.Code)
		}
		if got := w.Body.String(); got != `{"title":"Not Found","status":404}` {
			t.Fatalf("body=%s", got)
		}
	})

	t.Run("custom error is unmapped", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/exceptions/custom", "", nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", w.Code)
		}
		if env := decode(t, w); env.ErrorCode == nil {
			t.Fatalf("expected correlation code, body=%s", w.Body.String())
		}
	})

	t.Run("panic is unmapped", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/exceptions/panic", "", nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", w.Code)
		}
		if env := decode(t, w); env.ErrorCode == nil || !codeRe.MatchString(*env.ErrorCode) {
			t.Fatalf("body=%s", w.Body.String())
		}
	})

	t.Run("streamed keeps partial response", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/exceptions/streamed", "", nil)
		if w.Code != http.StatusOK || w.Body.String() != "partial" {
			t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
		}
	})

	t.Run("etag dropped and error not cacheable", func(t *testing.T) {
		w := do(r, http.MethodGet, "/api/v1/exceptions/etag", "", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("status=%d", w.Code)
		}
		h := w.Header()
		if h.Get("ETag") != "" {
			t.Fatalf("ETag leaked: %q", h.Get("ETag"))
		}
		if h.Get("Cache-Control") != "no-cache" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "-1" {
			t.Fatalf("cache headers: %v", h)
		}
	})
}

func TestRegisterRoutes_PreservedHeadersOnErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r := newRouter(t, nil, cfg)

	w := do(r, http.MethodGet, "/nope", "", map[string]string{
		"X-Request-ID":      "rid-123",
		"X-Forwarded-Proto": "https",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	h := w.Header()
	if got := h.Get("X-Request-ID"); got != "rid-123" {
		t.Fatalf("X-Request-ID=%q", got)
	}
	if got := h.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q", got)
	}
	if got := h.Get("Permissions-Policy"); got == "" {
		t.Fatalf("Permissions-Policy dropped")
	}
	if got := h.Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=3600") {
		t.Fatalf("HSTS=%q", got)
	}
}

func TestRegisterRoutes_BodyTooLarge413(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxBodyBytes = 10
	r := newRouter(t, nil, cfg)

	w := do(r, http.MethodPost, "/api/v1/exceptions/echo", "0123456789AB", nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d body=%s", w.Code, w.Body.String())
	}
	if env := decode(t, w); env.ErrorCode != nil || env.Message != "request body too large" {
		t.Fatalf("413 body=%s", w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/v1/exceptions/echo", "0123", nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"bytes":4}` {
		t.Fatalf("small body: %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_RateLimited429(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 1
	cfg.RateBurst = 1
	r := newRouter(t, nil, cfg)

	if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After=%q", got)
	}
	if got := w.Body.String(); got != `{"errorCode":null,"message":"rate limit exceeded"}` {
		t.Fatalf("body=%s", got)
	}
}

func TestRegisterRoutes_ConfiguredPrefixAndMessage(t *testing.T) {
	cfg := baseConfig()
	cfg.Exceptions.ErrorCodePrefix = "APP-"
	cfg.Exceptions.DefaultErrorMessage = "Something broke"
	r := newRouter(t, nil, cfg)

	w := do(r, http.MethodGet, "/api/v1/exceptions", "", nil)
	env := decode(t, w)
	if env.ErrorCode == nil || !regexp.MustCompile(`^APP-[0-9A-F]{8}$`).MatchString(*env.ErrorCode) {
		t.Fatalf("errorCode=%v", env.ErrorCode)
	}
	if env.Message != "Something broke" {
		t.Fatalf("message=%q", env.Message)
	}
}

func TestRegisterRoutes_IncidentsRecordedAndServed(t *testing.T) {
	cfg := baseConfig()
	cfg.Incidents = config.IncidentsConfig{DBPath: "set", APIEnabled: true}
	db := newTestDB(t)
	r := newRouter(t, db, cfg)

	w := do(r, http.MethodGet, "/api/v1/exceptions/custom?reason=disk", "", map[string]string{"X-Request-ID": "rid-9"})
	env := decode(t, w)
	if env.ErrorCode == nil {
		t.Fatalf("expected correlation code, body=%s", w.Body.String())
	}
	code := *env.ErrorCode

	// mapped failures are not recorded
	_ = do(r, http.MethodGet, "/api/v1/exceptions/argumentnull", "", nil)

	w = do(r, http.MethodGet, "/api/v1/incidents/"+code, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET incident = %d body=%s", w.Code, w.Body.String())
	}
	var inc domain.Incident
	if err := json.Unmarshal(w.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode incident: %v", err)
	}
	if inc.ErrorCode != code || inc.StatusCode != http.StatusInternalServerError ||
		inc.Method != http.MethodGet || inc.Path != "/api/v1/exceptions/custom" ||
		inc.RequestID != "rid-9" || inc.Message != "custom failure: disk" {
		t.Fatalf("incident=%+v", inc)
	}
	if !strings.Contains(inc.ErrorType, "CustomError") {
		t.Fatalf("error type=%q", inc.ErrorType)
	}

	w = do(r, http.MethodGet, "/api/v1/incidents", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var list struct {
		Incidents []domain.Incident `json:"incidents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Incidents) != 1 {
		t.Fatalf("want 1 incident, got %d", len(list.Incidents))
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("list should carry an ETag")
	}
	if w := do(r, http.MethodGet, "/api/v1/incidents", "", map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("If-None-Match = %d", w.Code)
	}

	// unknown and malformed codes go through the mapped lookups
	w = do(r, http.MethodGet, "/api/v1/incidents/ERR_00000000", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown code = %d", w.Code)
	}
	if env := decode(t, w); env.ErrorCode != nil || env.Message != "Incident not found" {
		t.Fatalf("unknown code body=%s", w.Body.String())
	}
	w = do(r, http.MethodGet, "/api/v1/incidents/bogus", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed code = %d", w.Code)
	}
}

func TestRegisterRoutes_IncidentAPIDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.Incidents = config.IncidentsConfig{DBPath: "set", APIEnabled: false}
	db := newTestDB(t)
	r := newRouter(t, db, cfg)

	w := do(r, http.MethodGet, "/api/v1/exceptions", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	// recorded even though the API is not mounted
	n, err := repo.CountIncidents(context.Background(), db)
	if err != nil || n != 1 {
		t.Fatalf("CountIncidents = %d, %v", n, err)
	}

	w = do(r, http.MethodGet, "/api/v1/incidents", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("incidents route should not be mounted, got %d", w.Code)
	}
}

func TestRegisterRoutes_ReturnsNilServiceWithoutDB(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if svc := RegisterRoutes(gin.New(), nil, baseConfig()); svc != nil {
		t.Fatalf("expected nil incident service without a DB")
	}
}

func Test_limitBody_ZeroDisables(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(0))
	r.POST("/echo", func(c *gin.Context) {
		n, err := c.Request.Body.Read(make([]byte, 64))
		if err != nil && n == 0 {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := do(r, http.MethodPost, "/echo", strings.Repeat("x", 32), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with no cap, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := do(r, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func Test_incidentRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := incidentRepoShim{}
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	for i, code := range []string{"ERR_0000000A", "ERR_0000000B", "ERR_0000000C"} {
		inc := &domain.Incident{ErrorCode: code, StatusCode: 500, Method: "GET", Path: "/x"}
		if i == 0 {
			inc.CreatedAt = old
		}
		if err := shim.CreateIncident(ctx, db, inc); err != nil {
			t.Fatalf("CreateIncident %s: %v", code, err)
		}
	}

	got, err := shim.GetIncidentByCode(ctx, db, "ERR_0000000B")
	if err != nil || got.ErrorCode != "ERR_0000000B" {
		t.Fatalf("GetIncidentByCode: %+v, %v", got, err)
	}

	n, err := shim.CountIncidents(ctx, db)
	if err != nil || n != 3 {
		t.Fatalf("CountIncidents: %d, %v", n, err)
	}

	page, err := shim.ListIncidentsPage(ctx, db, 0, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListIncidentsPage: %d, %v", len(page), err)
	}

	count, latest, err := shim.IncidentsStats(ctx, db)
	if err != nil || count != 3 || latest == nil {
		t.Fatalf("IncidentsStats: %d, %v, %v", count, latest, err)
	}

	deleted, err := shim.DeleteIncidentsBefore(ctx, db, time.Now().UTC().Add(-time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("DeleteIncidentsBefore: %d, %v", deleted, err)
	}
}
