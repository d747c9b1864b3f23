package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// Audit records are keyed by a zero-padded sequence so that lexical key order
// is chronological order.
func auditKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", auditPrefix, seq)
}

// entryHash covers every field except Hash itself, including PrevHash.
func entryHash(e interfaces.AuditLogEntry) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return cryptoutils.SHA256Hex(raw), nil
}

// audit appends an entry to the log. Caller holds v.mu. Failures are logged
// and never fail the audited operation.
func (v *SecureVault) audit(ctx context.Context, action interfaces.AuditAction, keyID string, ok bool, reason string) {
	if err := v.loadAuditHead(ctx); err != nil {
		v.log.Error("Failed to load audit log head", slog.String("action", string(action)), "err", err)
		return
	}

	entry := interfaces.AuditLogEntry{
		ID:         uuid.NewString(),
		Sequence:   v.auditSeq + 1,
		Timestamp:  v.clock.Now().UTC(),
		Action:     action,
		KeyID:      keyID,
		Successful: ok,
		Metadata:   interfaces.AuditMetadata{Reason: reason},
		PrevHash:   v.auditHead,
	}
	hash, err := entryHash(entry)
	if err != nil {
		v.log.Error("Failed to hash audit entry", "err", err)
		return
	}
	entry.Hash = hash

	raw, err := json.Marshal(entry)
	if err != nil {
		v.log.Error("Failed to encode audit entry", "err", err)
		return
	}
	if err := v.store.Set(ctx, auditKey(entry.Sequence), raw); err != nil {
		v.log.Error("Failed to append audit entry",
			slog.String("action", string(action)),
			slog.Uint64("sequence", entry.Sequence),
			"err", err)
		return
	}

	v.auditSeq = entry.Sequence
	v.auditHead = entry.Hash
	v.log.Debug("Audit entry appended",
		slog.String("action", string(action)),
		slog.String("key_id", keyID),
		slog.Bool("successful", ok))
}

func (v *SecureVault) loadAuditHead(ctx context.Context) error {
	if v.auditLoaded {
		return nil
	}
	keys, err := v.store.Keys(ctx, auditPrefix)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		last, err := v.readAudit(ctx, keys[len(keys)-1])
		if err != nil {
			return err
		}
		v.auditSeq = last.Sequence
		v.auditHead = last.Hash
	}
	v.auditLoaded = true
	return nil
}

func (v *SecureVault) readAudit(ctx context.Context, key string) (interfaces.AuditLogEntry, error) {
	var entry interfaces.AuditLogEntry
	raw, err := v.store.Get(ctx, key)
	if err != nil {
		return entry, fmt.Errorf("failed to read audit entry %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return entry, fmt.Errorf("%w: audit entry %s: %v", interfaces.ErrIntegrity, key, err)
	}
	return entry, nil
}

// GetAuditLog returns up to limit entries, newest first. A limit of zero or
// less returns the whole log.
func (v *SecureVault) GetAuditLog(ctx context.Context, limit int) ([]interfaces.AuditLogEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	keys, err := v.store.Keys(ctx, auditPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	if limit <= 0 || limit > len(keys) {
		limit = len(keys)
	}

	entries := make([]interfaces.AuditLogEntry, 0, limit)
	for i := len(keys) - 1; i >= 0 && len(entries) < limit; i-- {
		entry, err := v.readAudit(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// VerifyAuditLog walks the log from the oldest entry and checks every hash
// and back link. It returns an ErrIntegrity error naming the first bad entry.
func (v *SecureVault) VerifyAuditLog(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	keys, err := v.store.Keys(ctx, auditPrefix)
	if err != nil {
		return fmt.Errorf("failed to list audit log: %w", err)
	}

	prev := ""
	for i, key := range keys {
		entry, err := v.readAudit(ctx, key)
		if err != nil {
			return err
		}
		if entry.Sequence != uint64(i+1) || key != auditKey(entry.Sequence) {
			return fmt.Errorf("%w: audit entry %s out of sequence", interfaces.ErrIntegrity, strings.TrimPrefix(key, auditPrefix))
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("%w: audit entry %d does not link to its predecessor", interfaces.ErrIntegrity, entry.Sequence)
		}
		want, err := entryHash(entry)
		if err != nil {
			return err
		}
		if want != entry.Hash {
			return fmt.Errorf("%w: audit entry %d hash mismatch", interfaces.ErrIntegrity, entry.Sequence)
		}
		prev = entry.Hash
	}
	return nil
}
