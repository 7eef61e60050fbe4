package receiver

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var errUnauthorized = errors.New("unauthorized")

// Principal is the normalized identity of an authenticated caller,
// regardless of which credential kind it presented.
type Principal struct {
	Method   string // "api-key" or "password"
	Username string
}

// Authenticator accepts either a bearer API key or a username plus a
// password verified against a stored bcrypt hash. Requests failing both
// are rejected before any business logic runs.
type Authenticator struct {
	apiKey       string
	username     string
	passwordHash string
}

func NewAuthenticator(apiKey, username, passwordHash string) *Authenticator {
	return &Authenticator{
		apiKey:       apiKey,
		username:     username,
		passwordHash: passwordHash,
	}
}

func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	if auth := r.Header.Get("Authorization"); auth != "" && a.apiKey != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != auth && subtle.ConstantTimeCompare([]byte(token), []byte(a.apiKey)) == 1 {
			return &Principal{Method: "api-key"}, nil
		}
	}

	username := r.Header.Get("X-Username")
	password := r.Header.Get("X-Password")
	if username != "" && a.username != "" && a.passwordHash != "" {
		if subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1 &&
			bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) == nil {
			return &Principal{Method: "password", Username: username}, nil
		}
	}

	return nil, errUnauthorized
}

// Middleware rejects unauthenticated requests with 401 and stashes nothing:
// handlers that need the principal re-derive it from the request.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
