package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentworkforce/relaydebate/internal/debate"
)

const jwtAudience = "relaydebate"

type authenticator struct {
	staticToken string
	jwtSecret   string
	now         func() time.Time
}

func (a authenticator) enabled() bool {
	return a.staticToken != "" || a.jwtSecret != ""
}

// authorize accepts the static token or, when a secret is configured, an
// HS256 JWT for the relaydebate audience. allowQuery also reads ?token= for
// clients that cannot set headers, such as browsers opening a WebSocket.
func (a authenticator) authorize(r *http.Request, allowQuery bool) *debate.Error {
	if !a.enabled() {
		return nil
	}
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" && allowQuery {
		raw = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if raw == "" {
		return debate.Unauthorized("missing or invalid bearer token")
	}
	if a.staticToken != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(a.staticToken)) == 1 {
		return nil
	}
	if a.jwtSecret != "" {
		if err := a.verifyJWT(raw); err != nil {
			return err
		}
		return nil
	}
	return debate.Unauthorized("invalid token")
}

func (a authenticator) verifyJWT(raw string) *debate.Error {
	now := a.now
	if now == nil {
		now = time.Now
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(a.jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(jwtAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return debate.Unauthorized("token expired")
	case err != nil || !token.Valid:
		return debate.Unauthorized("invalid token")
	}
	return nil
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
