package session

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "selftreat"

// ErrInvalidToken covers malformed, forged and expired tokens.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the payload of a session token. The registered ID claim holds
// the session id and Subject the administrator id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
}

func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenIssuer{secret: []byte(secret)}, nil
}

// Issue returns a signed token referencing s.
func (i *TokenIssuer) Issue(s *Session) (string, error) {
	claims := Claims{
		Username: s.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   strconv.FormatInt(s.AdminID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies raw and returns its claims.
func (i *TokenIssuer) Parse(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return &claims, nil
}

// AdminID returns the administrator id carried in the subject claim.
func (c *Claims) AdminID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}
