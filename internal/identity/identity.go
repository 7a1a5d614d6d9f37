package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity is who a connection claims to be. It tags operations and join
// events for attribution only; nothing in the sync core gates on it.
type Identity struct {
	ID            string
	DisplayName   string
	Authenticated bool
}

// Resolver turns request credentials into a verified identity, or reports
// that none could be resolved.
type Resolver interface {
	Resolve(token string) (Identity, bool)
}

// AccountLookup resolves a stable account id to a display name. Backed by
// the account store; the resolver falls back to token claims when the
// account is unknown.
type AccountLookup interface {
	DisplayName(userID string) (string, bool)
}

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 bearer tokens issued by the auth service.
type JWTResolver struct {
	secret   []byte
	accounts AccountLookup
	log      *zap.SugaredLogger
}

func NewJWTResolver(secret []byte, accounts AccountLookup, log *zap.SugaredLogger) *JWTResolver {
	return &JWTResolver{secret: secret, accounts: accounts, log: log}
}

func (r *JWTResolver) Resolve(token string) (Identity, bool) {
	if token == "" || len(r.secret) == 0 {
		return Identity{}, false
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		if err != nil && !errors.Is(err, jwt.ErrTokenMalformed) {
			r.log.Warnw("rejected identity token", "error", err)
		}
		return Identity{}, false
	}
	if c.Subject == "" {
		return Identity{}, false
	}

	name := c.Name
	if r.accounts != nil {
		if stored, ok := r.accounts.DisplayName(c.Subject); ok {
			name = stored
		}
	}
	if name == "" {
		name = "User"
	}
	return Identity{ID: c.Subject, DisplayName: name, Authenticated: true}, true
}

// Guest builds a transient identity for connections without credentials.
func Guest(displayName string) Identity {
	if displayName == "" {
		displayName = "Guest"
	}
	return Identity{
		ID:          "guest-" + uuid.NewString(),
		DisplayName: displayName,
	}
}
