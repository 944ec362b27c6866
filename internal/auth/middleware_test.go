package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabormirandiano/casino-api/internal/common"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, subject string, roles []string, issuer string) string {
	t.Helper()
	builder := jwt.NewBuilder().
		Subject(subject).
		Issuer(issuer).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	if roles != nil {
		builder = builder.Claim("roles", roles)
	}
	token, err := builder.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(testSecret)))
	require.NoError(t, err)
	return string(signed)
}

func testParser() TokenParser {
	return TokenParser{Secret: []byte(testSecret), Issuer: "casino-api", Skew: 30 * time.Second}
}

func staffProtected(t *testing.T) (http.Handler, *string) {
	t.Helper()
	var seenSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenSubject, _ = common.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	return RequireStaff(testParser(), zerolog.Nop())(next), &seenSubject
}

func TestRequireStaffAcceptsValidToken(t *testing.T) {
	handler, seenSubject := staffProtected(t)
	req := httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "maria", []string{"staff"}, "casino-api"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "maria", *seenSubject)
}

func TestRequireStaffRejectsMissingToken(t *testing.T) {
	handler, _ := staffProtected(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/approve", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireStaffRejectsWrongIssuer(t *testing.T) {
	handler, _ := staffProtected(t)
	req := httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "maria", []string{"staff"}, "someone-else"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireStaffRejectsMissingRole(t *testing.T) {
	handler, _ := staffProtected(t)
	req := httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "maria", []string{"guardian"}, "casino-api"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireDevice(t *testing.T) {
	hash, err := argon2id.CreateHash("terminal-secret", argon2id.DefaultParams)
	require.NoError(t, err)
	devices := DeviceKeys{Hashes: map[string]string{"pos-1": hash}, Logger: zerolog.Nop()}

	var seenDevice string
	handler := devices.RequireDevice(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenDevice, _ = common.DeviceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("X-Device-Key", "pos-1:terminal-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "pos-1", seenDevice)

	req = httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("X-Device-Key", "pos-1:wrong-secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("X-Device-Key", "pos-9:terminal-secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffOrDeviceRoutesByHeader(t *testing.T) {
	hash, err := argon2id.CreateHash("terminal-secret", argon2id.DefaultParams)
	require.NoError(t, err)
	devices := DeviceKeys{Hashes: map[string]string{"pos-1": hash}, Logger: zerolog.Nop()}
	handler := StaffOrDevice(testParser(), devices, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("X-Device-Key", "pos-1:terminal-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/approve", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "maria", []string{"staff"}, "casino-api"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/approve", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
