package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agriconnect/pkg/model"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	TokenCookie = "token"
	TokenQuery  = "token"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims accepts both the legacy "id" claim and the registered "sub" claim.
type Claims struct {
	UserID string     `json:"id,omitempty"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   model.Role
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, ErrMissingToken
	}

	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}

	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return &Identity{UserID: userID, Role: c.Role}, nil
}

// Issue signs a token for userID. Login lives in the user service; this is
// used by tooling and tests that need a token the verifier accepts.
func (v *Verifier) Issue(userID string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest reads the token from the "token" cookie or a Bearer
// Authorization header. Browsers cannot set headers on websocket upgrades,
// so allowQuery additionally accepts ?token=.
func TokenFromRequest(r *http.Request, allowQuery bool) string {
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	if header := r.Header.Get("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
	}

	if allowQuery {
		return r.URL.Query().Get(TokenQuery)
	}
	return ""
}
