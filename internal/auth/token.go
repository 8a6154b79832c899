package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller: a stable player id plus the
// display name that was minted into the token.
type Identity struct {
	PlayerID string
	Name     string
}

// Tokens mints and verifies HS256 player identity tokens. Online-mode
// requests carry one as a bearer token; the server never trusts a
// player id from the request body.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokens creates a token service. A zero ttl defaults to 7 days.
func NewTokens(secret string, ttl time.Duration, clock clockwork.Clock) *Tokens {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Mint creates a signed token for a player.
func (t *Tokens) Mint(playerID, name string) (string, error) {
	now := t.clock.Now()
	claims := gojwt.MapClaims{
		"sub":  playerID,
		"name": name,
		"exp":  now.Add(t.ttl).Unix(),
		"iat":  now.Unix(),
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses a token string and returns the caller identity.
func (t *Tokens) Verify(tokenString string) (Identity, error) {
	token, err := gojwt.Parse(tokenString, func(token *gojwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, gojwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	playerID, _ := claims["sub"].(string)
	if playerID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	return Identity{PlayerID: playerID, Name: name}, nil
}

// FromHeader extracts the identity from an Authorization header value.
func (t *Tokens) FromHeader(header string) (Identity, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return Identity{}, fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return t.Verify(parts[1])
}
