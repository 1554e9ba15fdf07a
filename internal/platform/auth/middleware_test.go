package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func staffClaims(role string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:     role,
		ClinicID: "clinic-1",
	}
}

func newAuthedEcho(cfg JWTConfig) *echo.Echo {
	e := echo.New()
	e.Use(JWTMiddleware(cfg))
	e.GET("/whoami", func(c echo.Context) error {
		ctx := c.Request().Context()
		return c.JSON(http.StatusOK, map[string]string{
			"userId":   UserIDFromContext(ctx),
			"role":     string(RoleFromContext(ctx)),
			"clinicId": ClinicIDFromContext(ctx),
		})
	})
	return e
}

func TestJWTMiddleware_ValidBearerHeader(t *testing.T) {
	e := newAuthedEcho(JWTConfig{SigningKey: testKey})
	token := signToken(t, staffClaims("Nurse"), testKey)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{`"userId":"user-1"`, `"role":"Nurse"`, `"clinicId":"clinic-1"`} {
		if !strings.Contains(body, want) {
			t.Errorf("response missing %s: %s", want, body)
		}
	}
}

func TestJWTMiddleware_QueryParamToken(t *testing.T) {
	e := newAuthedEcho(JWTConfig{SigningKey: testKey})
	token := signToken(t, staffClaims("Doctor"), testKey)

	req := httptest.NewRequest(http.MethodGet, "/whoami?access_token="+token, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestJWTMiddleware_MissingToken(t *testing.T) {
	e := newAuthedEcho(JWTConfig{SigningKey: testKey})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	e := newAuthedEcho(JWTConfig{SigningKey: testKey})
	token := signToken(t, staffClaims("Nurse"), []byte("other-key"))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	e := newAuthedEcho(JWTConfig{SigningKey: testKey})
	claims := staffClaims("Nurse")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := signToken(t, claims, testKey)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_IssuerEnforced(t *testing.T) {
	e := newAuthedEcho(JWTConfig{SigningKey: testKey, Issuer: "https://auth.clinicdesk.io"})

	claims := staffClaims("Nurse")
	claims.Issuer = "https://evil.example.com"
	token := signToken(t, claims, testKey)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong issuer, got %d", rec.Code)
	}

	claims.Issuer = "https://auth.clinicdesk.io"
	token = signToken(t, claims, testKey)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for matching issuer, got %d", rec.Code)
	}
}

func TestJWTMiddleware_LowercaseRoleNormalized(t *testing.T) {
	e := echo.New()
	e.Use(JWTMiddleware(JWTConfig{SigningKey: testKey}))
	e.GET("/", func(c echo.Context) error {
		if got := RoleFromContext(c.Request().Context()); got != caseflow.RoleNurse {
			t.Errorf("expected normalized Nurse role, got %q", got)
		}
		return c.NoContent(http.StatusOK)
	})

	token := signToken(t, staffClaims("nurse"), testKey)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireCapability(t *testing.T) {
	cases := []struct {
		role string
		cap  caseflow.Capability
		want int
	}{
		{"Nurse", caseflow.CapEditVitals, http.StatusOK},
		{"Nurse", caseflow.CapEditReport, http.StatusForbidden},
		{"Doctor", caseflow.CapEditReport, http.StatusOK},
		{"Doctor", caseflow.CapEditVitals, http.StatusForbidden},
		{"SuperAdmin", caseflow.CapEditVitals, http.StatusOK},
		{"SuperAdmin", caseflow.CapEditReport, http.StatusOK},
		{"ClinicAdmin", caseflow.CapEditVitals, http.StatusForbidden},
		{"Receptionist", caseflow.CapEditReport, http.StatusForbidden},
	}

	for _, tc := range cases {
		e := echo.New()
		e.Use(JWTMiddleware(JWTConfig{SigningKey: testKey}))
		e.POST("/mutate", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
			RequireCapability(tc.cap))

		token := signToken(t, staffClaims(tc.role), testKey)
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Errorf("%s with %s: expected %d, got %d", tc.role, tc.cap, tc.want, rec.Code)
		}
	}
}
