package tether

import (
	"context"
	"errors"
	"southwinds.dev/tether/internal/misc"
	"southwinds.dev/tether/persist"
	"testing"
	"time"
)

func TestUseSecret(t *testing.T) {
	ctx := context.Background()
	vault, _ := createTestVault(t, persist.NewMemoryStore(), Options{})

	if err := vault.StoreSecret(ctx, "AIzaTest123"); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}

	var got string
	err := vault.UseSecret(ctx, func(secret []byte) error {
		got = string(secret)
		return nil
	})
	if err != nil {
		t.Fatalf("UseSecret() error = %v", err)
	}
	if got != "AIzaTest123" {
		t.Errorf("UseSecret() passed %q, want AIzaTest123", got)
	}
}

func TestUseSecretReturnsCallbackError(t *testing.T) {
	ctx := context.Background()
	vault, _ := createTestVault(t, persist.NewMemoryStore(), Options{})

	if err := vault.StoreSecret(ctx, "AIzaTest123"); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}

	sentinel := errors.New("callback failed")
	err := vault.UseSecret(ctx, func(secret []byte) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("UseSecret() error = %v, want %v", err, sentinel)
	}
}

func TestUseSecretNotFound(t *testing.T) {
	vault, _ := createTestVault(t, persist.NewMemoryStore(), Options{})

	called := false
	err := vault.UseSecret(context.Background(), func(secret []byte) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("UseSecret() error = %v, want ErrSecretNotFound", err)
	}
	if called {
		t.Error("Callback ran without a secret")
	}
}

func TestUseSecretMigratesLegacy(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()
	if err := store.Set(ctx, misc.DefaultLegacyKey, []byte("AIzaLegacy")); err != nil {
		t.Fatal(err)
	}
	vault, _ := createTestVault(t, store, Options{})

	err := vault.UseSecretString(ctx, func(secret string) error {
		if secret != "AIzaLegacy" {
			t.Errorf("UseSecretString() passed %q, want AIzaLegacy", secret)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UseSecretString() error = %v", err)
	}

	mustNotExist(t, store, misc.DefaultLegacyKey)
	if state, _ := vault.State(ctx); state != StateEncryptedOnly {
		t.Errorf("State() after UseSecretString = %v, want encrypted", state)
	}
}

func TestUseSecretWithTimeout(t *testing.T) {
	ctx := context.Background()
	vault, _ := createTestVault(t, persist.NewMemoryStore(), Options{})

	if err := vault.StoreSecret(ctx, "AIzaTest123"); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}

	err := vault.UseSecretWithTimeout(ctx, time.Minute, func(ctx context.Context, secret []byte) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("Callback context has no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UseSecretWithTimeout() error = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = vault.UseSecretWithTimeout(cancelled, time.Minute, func(ctx context.Context, secret []byte) error {
		t.Error("Callback ran on a cancelled context")
		return nil
	})
	if err == nil {
		t.Error("UseSecretWithTimeout() on a cancelled context returned nil")
	}
}
