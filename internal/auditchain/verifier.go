package auditchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of a verification run.
type Status string

const (
	StatusValid  Status = "VALID"
	StatusBroken Status = "BROKEN"
	StatusEmpty  Status = "EMPTY"
)

// BrokenLink locates the first inconsistent entry. When its stored previous
// hash does not match its predecessor's hash, ExpectedHash is the predecessor's
// hash and ActualHash the stored previous hash. Otherwise they are the
// recomputed and the stored hash of the entry.
type BrokenLink struct {
	EntryID      int64  `json:"entryId"`
	ExpectedHash string `json:"expectedHash"`
	ActualHash   string `json:"actualHash"`
}

// VerificationResult is the report produced by Verifier. A broken chain is a
// normal result, not an error.
type VerificationResult struct {
	Status          Status      `json:"status"`
	TotalEntries    int64       `json:"totalEntries"`
	VerifiedEntries int64       `json:"verifiedEntries"`
	VerifiedAt      time.Time   `json:"verifiedAt"`
	BrokenLink      *BrokenLink `json:"brokenLink"`
}

// Valid reports whether the chain verified (an empty chain counts as valid).
func (r *VerificationResult) Valid() bool {
	return r.Status == StatusValid || r.Status == StatusEmpty
}

// Verifier replays the persisted chain and recomputes every hash. It only reads
// committed entries and never goes through the Appender.
type Verifier struct {
	store  Store
	hasher *Hasher
	logger *zap.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(store Store, hasher *Hasher, logger *zap.Logger) *Verifier {
	return &Verifier{store: store, hasher: hasher, logger: logger}
}

// errStop ends a scan early once the first broken link is found.
var errStop = errors.New("stop scan")

// Verify checks the whole chain starting from the genesis sentinel. The first
// entry whose stored previous hash does not match its predecessor, or whose
// recomputed hash differs from its stored hash, ends the run.
func (v *Verifier) Verify(ctx context.Context) (*VerificationResult, error) {
	return v.verify(ctx, 1, 0, v.hasher.Sentinel())
}

// VerifyRange checks entries with from <= id <= to (to <= 0 means the tail).
// A range starting at the chain head is anchored to the genesis sentinel.
// Otherwise the expected previous hash of the first entry is taken from that
// entry itself, so the range proves internal consistency rather than linkage
// to genesis.
func (v *Verifier) VerifyRange(ctx context.Context, from, to int64) (*VerificationResult, error) {
	if from < 0 || to < 0 {
		return nil, fmt.Errorf("%w: range bounds must not be negative", ErrInvalidQuery)
	}
	if to > 0 && to < from {
		return nil, fmt.Errorf("%w: to (%d) is before from (%d)", ErrInvalidQuery, to, from)
	}
	if from <= 1 {
		return v.verify(ctx, 1, to, v.hasher.Sentinel())
	}
	return v.verify(ctx, from, to, "")
}

func (v *Verifier) verify(ctx context.Context, from, to int64, expected string) (*VerificationResult, error) {
	res := &VerificationResult{Status: StatusValid}
	seeded := expected != ""

	err := v.store.Scan(ctx, from, to, func(e *Entry) error {
		if !seeded {
			expected = e.PreviousHash
			if e.Action == ActionChainGenesis {
				expected = v.hasher.Sentinel()
			}
			seeded = true
		}
		res.TotalEntries++

		if e.PreviousHash != expected {
			res.Status = StatusBroken
			res.BrokenLink = &BrokenLink{
				EntryID:      e.ID,
				ExpectedHash: expected,
				ActualHash:   e.PreviousHash,
			}
			return errStop
		}

		computed, err := v.hasher.EntryHash(e, expected)
		if err != nil {
			return err
		}
		if computed != e.Hash {
			res.Status = StatusBroken
			res.BrokenLink = &BrokenLink{
				EntryID:      e.ID,
				ExpectedHash: computed,
				ActualHash:   e.Hash,
			}
			return errStop
		}
		res.VerifiedEntries++
		expected = e.Hash
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, storageErr("verify", err)
	}

	if res.TotalEntries == 0 {
		res.Status = StatusEmpty
	}
	res.VerifiedAt = timeNow().UTC()

	if res.Status == StatusBroken {
		v.logger.Error("audit chain verification failed",
			zap.Int64("entry_id", res.BrokenLink.EntryID),
			zap.String("expected_hash", res.BrokenLink.ExpectedHash),
			zap.String("actual_hash", res.BrokenLink.ActualHash),
			zap.Int64("verified_entries", res.VerifiedEntries),
		)
	} else {
		v.logger.Debug("audit chain verified",
			zap.String("status", string(res.Status)),
			zap.Int64("entries", res.TotalEntries),
		)
	}
	return res, nil
}
