// Package auth issues and verifies the host identity tokens that bind a
// request to an account.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "petfarm"

var (
	ErrMissingToken = errors.New("missing identity token")
	ErrInvalidToken = errors.New("invalid identity token")
	ErrExpiredToken = errors.New("identity token expired")
)

type Identity struct {
	UserID      string
	DisplayName string
	ExpiresAt   time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Verifier checks HS256 tokens signed with a shared secret and answers the
// admin allow-list.
type Verifier struct {
	secret []byte
	admins map[string]struct{}
	now    func() time.Time
}

func NewVerifier(secret string, adminIDs []string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity secret is required")
	}
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Verifier{secret: []byte(secret), admins: admins, now: time.Now}, nil
}

func (v *Verifier) IsAdmin(userID string) bool {
	_, ok := v.admins[userID]
	return ok
}

// Issue signs a token for userID valid for ttl.
func (v *Verifier) Issue(userID, name string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := v.now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: strings.TrimSpace(name),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return Identity{
		UserID:      parsed.Subject,
		DisplayName: parsed.Name,
		ExpiresAt:   parsed.ExpiresAt.Time.UTC(),
	}, nil
}
