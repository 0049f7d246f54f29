// Package otp keeps card-activation one-time codes in a dedicated store,
// out of band of any processor-visible field.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

var ErrCodeNotFound = errors.New("code not found or expired")

// Store keeps one-time codes with a TTL. Saving overwrites any previous code
// for the same key.
type Store interface {
	Save(ctx context.Context, key string, code string, ttl time.Duration) error

	// Get returns the stored code or ErrCodeNotFound when missing or expired
	Get(ctx context.Context, key string) (string, error)

	Delete(ctx context.Context, key string) error
}

const codeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns a random uppercase alphanumeric code
func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", err
		}
		code[i] = codeChars[n.Int64()]
	}

	return string(code), nil
}
