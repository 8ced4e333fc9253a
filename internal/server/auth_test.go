package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffline/internal/logging"
)

func signedToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestResolvePrincipal(t *testing.T) {
	valid := signedToken(t, testSecret, jwt.RegisteredClaims{Subject: "pm-7"})
	expired := signedToken(t, testSecret, jwt.RegisteredClaims{Subject: "pm-7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	noSubject := signedToken(t, testSecret, jwt.RegisteredClaims{})
	foreign := signedToken(t, "other", jwt.RegisteredClaims{Subject: "pm-7"})

	cases := []struct {
		name        string
		allowHeader bool
		authz       string
		actor       string
		wantActor   string
		wantSource  string
		wantCode    string
	}{
		{name: "jwt", authz: "Bearer " + valid, wantActor: "pm-7", wantSource: "jwt"},
		{name: "scheme is case insensitive", authz: "bearer " + valid, wantActor: "pm-7", wantSource: "jwt"},
		{name: "jwt beats header", allowHeader: true, authz: "Bearer " + valid, actor: "ops", wantActor: "pm-7", wantSource: "jwt"},
		{name: "bad jwt does not fall back to header", allowHeader: true, authz: "Bearer " + foreign, actor: "ops", wantCode: "invalid_credentials"},
		{name: "expired", authz: "Bearer " + expired, wantCode: "invalid_credentials"},
		{name: "missing subject", authz: "Bearer " + noSubject, wantCode: "invalid_credentials"},
		{name: "basic scheme", authz: "Basic b3BzOnB3", wantCode: "invalid_credentials"},
		{name: "empty token", authz: "Bearer", wantCode: "invalid_credentials"},
		{name: "header allowed", allowHeader: true, actor: " ops ", wantActor: "ops", wantSource: "header"},
		{name: "header disabled", actor: "ops", wantCode: "unauthorized"},
		{name: "anonymous", allowHeader: true, wantCode: "unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := AuthConfig{JWTSecret: testSecret, AllowActorHeader: tc.allowHeader, Logger: logging.Discard()}
			req := httptest.NewRequest(http.MethodGet, "/v1/projects/p1", nil)
			if tc.authz != "" {
				req.Header.Set("Authorization", tc.authz)
			}
			if tc.actor != "" {
				req.Header.Set(actorHeader, tc.actor)
			}

			p, apiErr := cfg.resolvePrincipal(req)
			if tc.wantCode != "" {
				require.NotNil(t, apiErr)
				assert.Equal(t, http.StatusUnauthorized, apiErr.GetStatus())
				assert.Equal(t, tc.wantCode, apiErr.(*apiError).Body.Code)
				return
			}
			require.Nil(t, apiErr)
			assert.Equal(t, Principal{ActorID: tc.wantActor, Source: tc.wantSource}, p)
		})
	}
}

func TestSecretlessConfigRejectsTokens(t *testing.T) {
	cfg := AuthConfig{Logger: logging.Discard()}
	req := httptest.NewRequest(http.MethodGet, "/v1/projects/p1", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "unused", jwt.RegisteredClaims{Subject: "pm-7"}))
	_, apiErr := cfg.resolvePrincipal(req)
	require.NotNil(t, apiErr)
	assert.Equal(t, "invalid_credentials", apiErr.(*apiError).Body.Code)
}
