package tether

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"log"
	"southwinds.dev/tether/audit"
	"southwinds.dev/tether/internal/debug"
	"southwinds.dev/tether/internal/mem"
	"southwinds.dev/tether/persist"
	"sync"
	"time"
)

// Initialize memguard in init function to ensure it's set up before any vault operation
func init() {
	memguard.CatchInterrupt()
}

// Vault keeps one secret in a persist.Store, sealed under a key derived from
// the device fingerprint. It migrates a legacy plaintext record on first load
// and discards envelopes it can no longer open.
type Vault struct {
	store   persist.Store
	options Options
	kdf     KDFParams

	// Memory protection
	memoryProtectionLevel mem.ProtectionLevel

	// Audit logging
	audit audit.Logger

	// the user on whose behalf the vault operates
	userID string

	// guards closed; storage operations are not serialised
	mu     sync.RWMutex
	closed bool
}

var _ VaultService = (*Vault)(nil)

// New creates a vault over the given store.
//
// Empty options fields take their defaults (see Options). A nil auditLogger
// is replaced by a no-op logger. The store is pinged before the vault is
// returned so a misconfigured backend fails here rather than on first use.
//
// Example:
//
//	store, _ := persist.NewFileSystemStore("/var/lib/tether", "default")
//	vault, err := tether.New(tether.Options{}, store, nil)
//	if err != nil {
//	    return fmt.Errorf("failed to create vault: %w", err)
//	}
//	defer vault.Close()
func New(options Options, store persist.Store, auditLogger audit.Logger) (*Vault, error) {
	options = options.WithDefaults()
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to storage backend: %w", err)
	}

	v := &Vault{
		store:                 store,
		options:               options,
		kdf:                   options.kdfParams(),
		memoryProtectionLevel: mem.ProtectionNone,
		audit:                 auditLogger,
		userID:                options.UserID,
	}

	if options.EnableMemoryLock {
		// best effort; memguard still guards the derived keys
		level, err := mem.Lock()
		if err != nil {
			log.Printf("WARNING: cannot fully protect memory: %v\n", err)
		}
		v.memoryProtectionLevel = level
	}

	if !options.Probe.Available() {
		log.Printf("WARNING: %v: secrets will be stored in plaintext under %q\n",
			ErrPrimitiveUnavailable, options.LegacyKey)
	}

	debug.Print("tether.New: store=%s algorithm=%s iterations=%d\n",
		store.GetType(), options.Algorithm, options.KDFIterations)

	return v, nil
}

func (v *Vault) StoreSecret(ctx context.Context, secret string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return ErrVaultClosed
	}

	requestID := newRequestID()

	if secret == "" {
		v.logAudit(requestID, audit.ActionSecretStore, ErrEmptySecret, nil)
		return ErrEmptySecret
	}

	if !v.options.Probe.Available() {
		return v.storePlaintext(ctx, requestID, secret)
	}

	envelope, err := v.seal(requestID, secret)
	if err != nil {
		v.logAudit(requestID, audit.ActionSecretStore, err, map[string]interface{}{
			"storage_key": v.options.EnvelopeKey,
		})
		return err
	}

	if err = v.store.Set(ctx, v.options.EnvelopeKey, []byte(envelope)); err != nil {
		err = fmt.Errorf("failed to write envelope: %w", err)
		v.logAudit(requestID, audit.ActionSecretStore, err, map[string]interface{}{
			"storage_key": v.options.EnvelopeKey,
		})
		return err
	}

	// a plaintext copy must not outlive a successful encrypted write
	legacyRemoved := true
	if err = v.store.Delete(ctx, v.options.LegacyKey); err != nil {
		legacyRemoved = false
		log.Printf("ERROR: failed to remove legacy record %s: %v\n", v.options.LegacyKey, err)
	}

	v.logAudit(requestID, audit.ActionSecretStore, nil, map[string]interface{}{
		"storage_key":    v.options.EnvelopeKey,
		"algorithm":      string(v.options.Algorithm),
		"envelope_size":  len(envelope),
		"legacy_removed": legacyRemoved,
	})
	return nil
}

// storePlaintext is the insecure fallback used when the primitives are
// unavailable. It also removes any envelope so a later load cannot return a
// stale secret.
func (v *Vault) storePlaintext(ctx context.Context, requestID, secret string) error {
	log.Printf("WARNING: %v: storing secret in plaintext under %s\n", ErrPrimitiveUnavailable, v.options.LegacyKey)

	value := []byte(secret)
	defer memguard.WipeBytes(value)

	if err := v.store.Set(ctx, v.options.LegacyKey, value); err != nil {
		err = fmt.Errorf("failed to write legacy record: %w", err)
		v.logAudit(requestID, audit.ActionInsecureFallback, err, map[string]interface{}{
			"storage_key": v.options.LegacyKey,
		})
		return err
	}

	if err := v.store.Delete(ctx, v.options.EnvelopeKey); err != nil {
		log.Printf("ERROR: failed to remove envelope %s: %v\n", v.options.EnvelopeKey, err)
	}

	v.logAudit(requestID, audit.ActionInsecureFallback, nil, map[string]interface{}{
		"storage_key": v.options.LegacyKey,
		"reason":      ErrPrimitiveUnavailable.Error(),
	})
	return nil
}

func (v *Vault) LoadSecret(ctx context.Context) (string, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return "", false, ErrVaultClosed
	}

	requestID := newRequestID()

	if !v.options.Probe.Available() {
		log.Printf("WARNING: %v: reading plaintext record only\n", ErrPrimitiveUnavailable)
		return v.loadLegacy(ctx, requestID, false)
	}

	raw, err := v.store.Get(ctx, v.options.EnvelopeKey)
	switch {
	case err == nil:
		secret, openErr := v.open(requestID, string(raw))
		if openErr == nil {
			v.logAudit(requestID, audit.ActionSecretLoad, nil, map[string]interface{}{
				"storage_key": v.options.EnvelopeKey,
				"found":       true,
			})
			return secret, true, nil
		}
		if !errors.Is(openErr, ErrDecryption) {
			v.logAudit(requestID, audit.ActionSecretLoad, openErr, map[string]interface{}{
				"storage_key": v.options.EnvelopeKey,
			})
			return "", false, openErr
		}
		v.discardEnvelope(ctx, requestID, openErr)

	case errors.Is(err, persist.ErrNotFound):
		// nothing sealed yet

	default:
		err = fmt.Errorf("failed to read envelope: %w", err)
		v.logAudit(requestID, audit.ActionSecretLoad, err, map[string]interface{}{
			"storage_key": v.options.EnvelopeKey,
		})
		return "", false, err
	}

	return v.loadLegacy(ctx, requestID, true)
}

// loadLegacy returns the plaintext record, migrating it into an envelope
// when migrate is set. Migration failures are logged; the value is returned
// regardless.
func (v *Vault) loadLegacy(ctx context.Context, requestID string, migrate bool) (string, bool, error) {
	raw, err := v.store.Get(ctx, v.options.LegacyKey)
	if errors.Is(err, persist.ErrNotFound) || (err == nil && len(raw) == 0) {
		v.logAudit(requestID, audit.ActionSecretLoad, nil, map[string]interface{}{
			"found": false,
		})
		return "", false, nil
	}
	if err != nil {
		err = fmt.Errorf("failed to read legacy record: %w", err)
		v.logAudit(requestID, audit.ActionSecretLoad, err, map[string]interface{}{
			"storage_key": v.options.LegacyKey,
		})
		return "", false, err
	}

	secret := string(raw)
	memguard.WipeBytes(raw)

	if migrate {
		v.migrate(ctx, requestID, secret)
	}

	v.logAudit(requestID, audit.ActionSecretLoad, nil, map[string]interface{}{
		"storage_key": v.options.LegacyKey,
		"found":       true,
	})
	return secret, true, nil
}

// migrate rewrites a legacy plaintext secret as an envelope and deletes the
// legacy record. On any failure before the envelope is written the legacy
// record is left in place.
func (v *Vault) migrate(ctx context.Context, requestID, secret string) {
	envelope, err := v.seal(requestID, secret)
	if err == nil {
		err = v.store.Set(ctx, v.options.EnvelopeKey, []byte(envelope))
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMigrationWrite, err)
		log.Printf("WARNING: %v; keeping legacy record %s\n", err, v.options.LegacyKey)
		v.logAudit(requestID, audit.ActionSecretMigrate, err, map[string]interface{}{
			"storage_key": v.options.LegacyKey,
		})
		return
	}

	if err = v.store.Delete(ctx, v.options.LegacyKey); err != nil {
		err = fmt.Errorf("%w: envelope written but legacy record not removed: %v", ErrMigrationWrite, err)
		log.Printf("ERROR: %v\n", err)
		v.logAudit(requestID, audit.ActionSecretMigrate, err, map[string]interface{}{
			"storage_key": v.options.LegacyKey,
		})
		return
	}

	v.logAudit(requestID, audit.ActionSecretMigrate, nil, map[string]interface{}{
		"storage_key": v.options.EnvelopeKey,
		"algorithm":   string(v.options.Algorithm),
	})
}

// discardEnvelope deletes an envelope that cannot be opened. The secret is
// then treated as absent unless a legacy record exists.
func (v *Vault) discardEnvelope(ctx context.Context, requestID string, reason error) {
	log.Printf("WARNING: discarding unreadable envelope %s: %v\n", v.options.EnvelopeKey, reason)

	err := v.store.Delete(ctx, v.options.EnvelopeKey)
	if err != nil {
		log.Printf("ERROR: failed to delete envelope %s: %v\n", v.options.EnvelopeKey, err)
	}

	v.logAudit(requestID, audit.ActionEnvelopeDiscarded, err, map[string]interface{}{
		"storage_key": v.options.EnvelopeKey,
		"reason":      reason.Error(),
	})
}

func (v *Vault) ClearSecret(ctx context.Context) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	requestID := newRequestID()

	if v.closed {
		log.Printf("WARNING: clear called on closed vault\n")
		return
	}

	var failed []string
	for _, key := range []string{v.options.EnvelopeKey, v.options.LegacyKey} {
		if err := v.store.Delete(ctx, key); err != nil {
			log.Printf("ERROR: failed to delete %s: %v\n", key, err)
			failed = append(failed, key)
		}
	}

	var err error
	if len(failed) > 0 {
		err = fmt.Errorf("failed to delete %v", failed)
	}
	v.logAudit(requestID, audit.ActionSecretClear, err, nil)
}

func (v *Vault) IsAvailable() bool {
	return v.options.Probe.Available()
}

func (v *Vault) State(ctx context.Context) (State, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return StateAbsent, ErrVaultClosed
	}

	hasEnvelope, err := v.store.Exists(ctx, v.options.EnvelopeKey)
	if err != nil {
		return StateAbsent, fmt.Errorf("failed to check envelope: %w", err)
	}

	hasLegacy, err := v.store.Exists(ctx, v.options.LegacyKey)
	if err != nil {
		return StateAbsent, fmt.Errorf("failed to check legacy record: %w", err)
	}

	return stateOf(hasEnvelope, hasLegacy), nil
}

func (v *Vault) Fingerprint() string {
	fp := Fingerprint(v.options.Environment)
	return hex.EncodeToString(fp[:])
}

func (v *Vault) SecureMemoryProtection() string {
	return v.memoryProtectionLevel.String()
}

func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true

	var errs []error

	if v.memoryProtectionLevel != mem.ProtectionNone {
		if err := mem.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unlock memory: %w", err))
		}
	}

	if v.audit != nil {
		if err := v.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("vault close errors: %w", errors.Join(errs...))
	}
	return nil
}

// seal derives a fresh key, encrypts and destroys the key
func (v *Vault) seal(requestID, secret string) (string, error) {
	key, err := v.deriveKey(requestID)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	return Encrypt(secret, key.Bytes(), v.options.Algorithm)
}

// open derives a fresh key, decrypts and destroys the key
func (v *Vault) open(requestID, envelope string) (string, error) {
	key, err := v.deriveKey(requestID)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	return Decrypt(envelope, key.Bytes(), v.options.Algorithm)
}

func (v *Vault) deriveKey(requestID string) (*memguard.LockedBuffer, error) {
	key, err := DeriveKey(Fingerprint(v.options.Environment), v.kdf)
	if err != nil {
		v.logAudit(requestID, audit.ActionKeyDerive, err, map[string]interface{}{
			"iterations": v.kdf.Iterations,
		})
		return nil, err
	}
	return key, nil
}

func (v *Vault) logAudit(requestID, action string, err error, metadata map[string]interface{}) {
	if v.audit == nil {
		log.Printf("WARNING: skipping audit logging, logger not initialized\n")
		return
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadata["user_id"] = v.userID
	metadata["request_id"] = requestID
	metadata["store_type"] = v.store.GetType()

	success := err == nil
	if err != nil {
		metadata["error"] = err.Error()
	}

	if auditErr := v.audit.Log(action, success, metadata); auditErr != nil {
		log.Printf("ERROR: audit logging failed for action %s: %v\n", action, auditErr)
	}
}

func newRequestID() string {
	return uuid.NewString()
}
