package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakePrivileges struct {
	admins map[string]string // actor -> api key
	err    error
}

func (f fakePrivileges) IsPrivileged(_ context.Context, actor string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.admins[actor]
	return ok, nil
}

func (f fakePrivileges) VerifyAPIKey(_ context.Context, actor, key string) (bool, error) {
	want, ok := f.admins[actor]
	if !ok || want == "" || want != key {
		return false, errors.New("API key invalid")
	}
	return true, nil
}

func authRouter(priv PrivilegeChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminAuth(testSecret, priv))
	r.GET("/admin", func(c *gin.Context) {
		c.String(http.StatusOK, GetActor(c))
	})
	return r
}

func doAuth(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth_MissingCredentials(t *testing.T) {
	w := doAuth(authRouter(fakePrivileges{}), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authorization required")
}

func TestAdminAuth_BearerToken(t *testing.T) {
	priv := fakePrivileges{admins: map[string]string{"alice": ""}}
	r := authRouter(priv)

	token, err := SignActorToken([]byte(testSecret), "alice", time.Minute)
	require.NoError(t, err)

	w := doAuth(r, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestAdminAuth_RejectsBadTokens(t *testing.T) {
	priv := fakePrivileges{admins: map[string]string{"alice": ""}}
	r := authRouter(priv)

	wrongKey, err := SignActorToken([]byte("other"), "alice", time.Minute)
	require.NoError(t, err)
	expired, err := SignActorToken([]byte(testSecret), "alice", -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, h := range map[string]string{
		"wrong key": "Bearer " + wrongKey,
		"expired":   "Bearer " + expired,
		"alg none":  "Bearer " + none,
		"basic":     "Basic YWxpY2U6cHc=",
	} {
		t.Run(name, func(t *testing.T) {
			w := doAuth(r, map[string]string{"Authorization": h})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAdminAuth_APIKey(t *testing.T) {
	priv := fakePrivileges{admins: map[string]string{"bob": "k3y"}}
	r := authRouter(priv)

	w := doAuth(r, map[string]string{ActorIDHeader: "bob", APIKeyHeader: "k3y"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", w.Body.String())

	w = doAuth(r, map[string]string{ActorIDHeader: "bob", APIKeyHeader: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// quietRejecter reports a key mismatch through the bool alone.
type quietRejecter struct{ fakePrivileges }

func (quietRejecter) VerifyAPIKey(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestAdminAuth_APIKeyRejectedWithoutError(t *testing.T) {
	r := authRouter(quietRejecter{fakePrivileges{admins: map[string]string{"bob": "k3y"}}})

	w := doAuth(r, map[string]string{ActorIDHeader: "bob", APIKeyHeader: "k3y"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"invalid credentials"}`, w.Body.String())
}

func TestAdminAuth_UnprivilegedActor(t *testing.T) {
	r := authRouter(fakePrivileges{admins: map[string]string{}})
	token, err := SignActorToken([]byte(testSecret), "mallory", time.Minute)
	require.NoError(t, err)

	w := doAuth(r, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminAuth_PrivilegeStoreDown(t *testing.T) {
	r := authRouter(fakePrivileges{err: errors.New("db down")})
	token, err := SignActorToken([]byte(testSecret), "alice", time.Minute)
	require.NoError(t, err)

	w := doAuth(r, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParseActorToken_RequiresSubject(t *testing.T) {
	token, err := SignActorToken([]byte(testSecret), "", time.Minute)
	require.NoError(t, err)
	_, err = ParseActorToken([]byte(testSecret), token)
	assert.Error(t, err)
}

func TestAdminAuth_ReportsFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	type failure struct{ actor, reason string }
	var got []failure

	r := gin.New()
	r.Use(AdminAuth(testSecret, fakePrivileges{admins: map[string]string{"bob": "k3y"}},
		WithFailureRecorder(func(_ *gin.Context, actor, reason string) {
			got = append(got, failure{actor, reason})
		})))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	doAuth(r, nil)
	doAuth(r, map[string]string{ActorIDHeader: "bob", APIKeyHeader: "nope"})
	token, err := SignActorToken([]byte(testSecret), "mallory", time.Minute)
	require.NoError(t, err)
	doAuth(r, map[string]string{"Authorization": "Bearer " + token})

	assert.Equal(t, []failure{
		{"bob", "invalid credentials"},
		{"mallory", "admin privileges required"},
	}, got, "missing credentials are not reported")
}
