package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			c := e.NewContext(req, httptest.NewRecorder())

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "doc-456",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles:      []string{RoleDoctor},
		LocationID: "loc-blr-1",
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var called bool
	handler := func(c echo.Context) error {
		called = true
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "doc-456" {
			t.Errorf("expected user_id=doc-456, got %s", uid)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleDoctor {
			t.Errorf("expected roles=[doctor], got %v", roles)
		}
		if loc := LocationFromContext(ctx); loc != "loc-blr-1" {
			t.Errorf("expected location loc-blr-1, got %s", loc)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name   string
		claims jwt.RegisteredClaims
		key    []byte
		cfg    JWTConfig
	}{
		{"expired", expired, testSigningKey, JWTConfig{SigningKey: testSigningKey}},
		{"wrong key", valid, []byte("another-key"), JWTConfig{SigningKey: testSigningKey}},
		{"no subject", noSubject, testSigningKey, JWTConfig{SigningKey: testSigningKey}},
		{"wrong issuer", wrongIssuer, testSigningKey, JWTConfig{SigningKey: testSigningKey, Issuer: "clinic"}},
		{"missing audience", valid, testSigningKey, JWTConfig{SigningKey: testSigningKey, Audience: "clinic-api"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenStr := createTestToken(t, Claims{RegisteredClaims: tt.claims}, tt.key)
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tokenStr)
			c := e.NewContext(req, httptest.NewRecorder())

			err := JWTMiddleware(tt.cfg)(okHandler)(c)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestIssueToken_RoundTrip(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "clinic", Audience: "clinic-api"}
	tokenStr, err := IssueToken(cfg, "hw-9", []string{RoleHealthWorker}, "loc-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "hw-9" {
			t.Errorf("expected hw-9, got %s", uid)
		}
		return nil
	}
	if err := JWTMiddleware(cfg)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := IssueToken(JWTConfig{}, "u", nil, "", time.Hour); err == nil {
		t.Error("expected error without signing key")
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "dev-user" {
			t.Errorf("expected user_id=dev-user, got %s", uid)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected roles=[admin], got %v", roles)
		}
		return nil
	}
	if err := DevAuthMiddleware(JWTConfig{})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_ImpersonationHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "hw-2")
	req.Header.Set(DevRolesHeader, "health-worker, doctor")
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "hw-2" {
			t.Errorf("expected hw-2, got %s", uid)
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 2 || roles[0] != RoleHealthWorker || roles[1] != RoleDoctor {
			t.Errorf("unexpected roles: %v", roles)
		}
		return nil
	}
	if err := DevAuthMiddleware(JWTConfig{})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_ValidatesPresentedToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	c := e.NewContext(req, httptest.NewRecorder())

	err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}
