// Package token generates redemption credentials: an unguessable opaque
// token used as the redemption key, and a short numeric PIN used as the
// offline fallback (always validated together with a merchant id).
package token

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Issuer produces coupon credentials. The zero value is ready to use; it
// exists as a type so callers can swap a deterministic fake in tests.
type Issuer struct{}

// NewToken returns a globally unique opaque token (UUIDv4, 122 bits of
// entropy). Treated as a bearer credential by callers.
func (Issuer) NewToken() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return u.String(), nil
}

// NewPin returns a 4-digit PIN sampled uniformly from 1000-9999. PINs are
// not unique; the redemption path scopes them to a single merchant.
func (Issuer) NewPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%04d", 1000+n.Int64()), nil
}
