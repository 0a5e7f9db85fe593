package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidState is returned for missing, tampered or expired state tokens.
var ErrInvalidState = errors.New("payments: invalid state token")

// StateClaims bind a gateway round trip to one order and amount.
type StateClaims struct {
	OrderID string `json:"oid"`
	Amount  int64  `json:"amt"`
	Method  string `json:"mth"`
	jwt.RegisteredClaims
}

// StateSigner issues HS256 tokens that are appended to gateway return URLs.
type StateSigner struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewStateSigner constructs a signer. A zero ttl defaults to one hour.
func NewStateSigner(key []byte, ttl time.Duration, clock func() time.Time) (*StateSigner, error) {
	if len(key) < 16 {
		return nil, errors.New("payments: state signing key must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &StateSigner{
		key: append([]byte(nil), key...),
		ttl: ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Sign returns a token for the order, amount and method.
func (s *StateSigner) Sign(orderID string, amount int64, method string) (string, error) {
	now := s.clock()
	claims := StateClaims{
		OrderID: orderID,
		Amount:  amount,
		Method:  method,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("payments: sign state: %w", err)
	}
	return token, nil
}

// Verify parses token and checks its signature and expiry against the signer's clock.
func (s *StateSigner) Verify(token string) (StateClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return StateClaims{}, fmt.Errorf("%w: missing", ErrInvalidState)
	}
	var claims StateClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}); err != nil {
		return StateClaims{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !claims.VerifyExpiresAt(s.clock(), true) {
		return StateClaims{}, fmt.Errorf("%w: expired", ErrInvalidState)
	}
	if claims.OrderID == "" {
		return StateClaims{}, fmt.Errorf("%w: order id missing", ErrInvalidState)
	}
	return claims, nil
}
