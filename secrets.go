package tether

import (
	"context"
	"time"
	"unsafe"

	"github.com/awnumar/memguard"
)

// UseSecret loads the secret and passes it to fn inside a locked buffer that
// is destroyed as soon as fn returns, including when fn panics. fn must not
// retain the slice.
//
// Loading follows LoadSecret, so a legacy record is migrated and an
// unreadable envelope is discarded first. ErrSecretNotFound is returned when
// nothing is stored.
func (v *Vault) UseSecret(ctx context.Context, fn func(secret []byte) error) error {
	secret, found, err := v.LoadSecret(ctx)
	if err != nil {
		return err
	}
	if !found {
		return ErrSecretNotFound
	}

	buffer := memguard.NewBufferFromBytes([]byte(secret))
	defer buffer.Destroy()

	return fn(buffer.Bytes())
}

// UseSecretString is UseSecret for callers that need a string. The string
// shares the locked buffer's memory and is invalid once fn returns.
func (v *Vault) UseSecretString(ctx context.Context, fn func(secret string) error) error {
	return v.UseSecret(ctx, func(secret []byte) error {
		return fn(unsafeString(secret))
	})
}

// UseSecretWithTimeout bounds the load and the callback by timeout. fn
// receives the derived context and should stop when it is done.
func (v *Vault) UseSecretWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, secret []byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return v.UseSecret(ctx, func(secret []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, secret)
	})
}

// unsafeString views b as a string without copying it out of locked memory
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
