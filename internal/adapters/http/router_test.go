package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Jam/internal/adapters/signal"
	"github.com/dkeye/Jam/internal/app"
	"github.com/dkeye/Jam/internal/app/orch"
	"github.com/dkeye/Jam/internal/config"
	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type nullConn struct{}

func (nullConn) TrySend(core.Frame) error { return nil }
func (nullConn) Close()                   {}

func testConfig() *config.Config {
	return &config.Config{Mode: "test", StaticPath: "./web", Secret: "s3cret", Metrics: config.MetricsConfig{Enabled: true}}
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestDiagnostics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	o := orch.New(orch.Orchestrator{Metrics: app.NewMetrics(reg)})
	r := SetupRouter(t.Context(), testConfig(), o, reg)

	if w := get(r, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz: %d", w.Code)
	}
	if w := get(r, "/api/rooms/R/members"); w.Code != http.StatusNotFound {
		t.Errorf("unknown room should 404, got %d", w.Code)
	}

	o.Connect("s", &domain.User{ID: "A", DisplayName: "Al"}, nullConn{}, nil)
	if err := o.OnMessage("s", []byte(`{"type":"join","roomId":"R","position":[1,2,3]}`)); err != nil {
		t.Fatal(err)
	}

	w := get(r, "/api/rooms")
	var rooms struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms.Rooms) != 1 || rooms.Rooms[0].ID != "R" || rooms.Rooms[0].MemberCount != 1 {
		t.Errorf("unexpected rooms %s", w.Body)
	}

	w = get(r, "/api/rooms/R/members")
	var members struct {
		Members []domain.Presence `json:"members"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &members); err != nil {
		t.Fatal(err)
	}
	if len(members.Members) != 1 || members.Members[0].UserID != "A" || members.Members[0].Position != (domain.Vec3{1, 2, 3}) {
		t.Errorf("unexpected members %s", w.Body)
	}

	w = get(r, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "jam_connections 1") {
		t.Errorf("metrics should report the connection, got %d", w.Code)
	}
}

func TestMetricsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	r := SetupRouter(t.Context(), cfg, orch.New(orch.Orchestrator{}), prometheus.NewRegistry())
	if w := get(r, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func identityEngine(opts AuthOptions, seed func(c *gin.Context)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("test", cookie.NewStore([]byte("k"))))
	if seed != nil {
		r.Use(seed)
	}
	r.Use(IdentityMiddleware(opts))
	r.GET("/who", func(c *gin.Context) {
		v, ok := c.Get(signal.UserKey)
		if !ok {
			c.String(http.StatusUnauthorized, "")
			return
		}
		u := v.(*domain.User)
		c.String(http.StatusOK, string(u.ID)+"|"+u.DisplayName)
	})
	return r
}

func TestIdentitySources(t *testing.T) {
	withHeaders := func(h http.Header) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header = h
		return req
	}
	gateway := http.Header{HeaderUserID: {"gw-1"}, HeaderName: {"Gate"}}

	tests := []struct {
		name string
		opts AuthOptions
		seed func(c *gin.Context)
		req  *http.Request
		code int
		body string
	}{
		{
			name: "session",
			opts: AuthOptions{TrustHeaders: true},
			seed: func(c *gin.Context) {
				s := sessions.Default(c)
				s.Set(SessionUserID, "u1")
				s.Set(SessionDisplayName, "Una")
			},
			req:  withHeaders(gateway),
			code: http.StatusOK,
			body: "u1|Una",
		},
		{name: "trusted headers", opts: AuthOptions{TrustHeaders: true}, req: withHeaders(gateway), code: http.StatusOK, body: "gw-1|Gate"},
		{name: "untrusted headers", opts: AuthOptions{}, req: withHeaders(gateway), code: http.StatusUnauthorized},
		{name: "bad header identity", opts: AuthOptions{TrustHeaders: true}, req: withHeaders(http.Header{HeaderUserID: {"x"}}), code: http.StatusUnauthorized},
		{name: "nothing", opts: AuthOptions{}, req: withHeaders(http.Header{}), code: http.StatusUnauthorized},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			identityEngine(test.opts, test.seed).ServeHTTP(w, test.req)
			if w.Code != test.code || (test.body != "" && w.Body.String() != test.body) {
				t.Errorf("expected %d %q, got %d %q", test.code, test.body, w.Code, w.Body.String())
			}
		})
	}
}

func TestGuestIsSticky(t *testing.T) {
	r := identityEngine(AuthOptions{AllowGuests: true}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "|guest-") {
		t.Fatalf("expected a guest, got %d %q", w.Code, w.Body.String())
	}
	first := strings.SplitN(w.Body.String(), "|", 2)[0]
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("guest token cookie not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := strings.SplitN(w.Body.String(), "|", 2)[0]; got != first {
		t.Errorf("guest id should survive reconnects: %q vs %q", got, first)
	}
}
