package integrity

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/avsafe-data/avsafe.report/internal/minute"
)

// ChainBreakError reports the first index at which a stored hash does not
// match the recomputed one. It is always surfaced verbatim, never swallowed:
// the entire value of the chain is evidentiary.
type ChainBreakError struct {
	Index  int
	Reason string
}

func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("chain break at idx %d: %s", e.Index, e.Reason)
}

// VerifyOptions tunes record verification.
type VerifyOptions struct {
	// Strict rejects demo-scheme signatures.
	Strict bool
}

// VerifyResult is the outcome of verifying a sealed record sequence.
type VerifyResult struct {
	// Records is the number of records examined.
	Records int

	// BrokenIndex is the first index where the chain fails (hash mismatch
	// or non-contiguous idx), or -1 when the chain is intact. Hash
	// validation halts past the break; continuity downstream of it cannot
	// be trusted.
	BrokenIndex int

	// Break describes the break when BrokenIndex >= 0.
	Break *ChainBreakError

	// Signatures holds the per-record signature status. Signature checks
	// are independent of the chain and run for every record, break or not.
	Signatures []SignatureStatus

	// Incomplete is set when verification was cancelled before examining
	// the whole sequence.
	Incomplete bool
}

// ChainIntact reports whether every examined record rechained cleanly.
func (r VerifyResult) ChainIntact() bool {
	return r.BrokenIndex < 0
}

// Verify recomputes the hash chain over an ordered record sequence and
// checks every signature. The first hash mismatch or index gap marks the
// chain broken at that record; signature validation still covers all
// records. ctx aborts between records, leaving the result incomplete.
func Verify(ctx context.Context, records []minute.Record, opts VerifyOptions) VerifyResult {
	res := VerifyResult{
		Records:     len(records),
		BrokenIndex: -1,
		Signatures:  make([]SignatureStatus, 0, len(records)),
	}

	var prev [HashSize]byte
	for i, rec := range records {
		if ctx.Err() != nil {
			res.Incomplete = true
			return res
		}

		res.Signatures = append(res.Signatures, VerifySignature(rec.Payload, rec.Chain, opts.Strict))

		if !res.ChainIntact() {
			// Past the break: signatures only.
			continue
		}

		if rec.Idx != i {
			res.BrokenIndex = i
			res.Break = &ChainBreakError{Index: i, Reason: fmt.Sprintf("idx %d out of sequence, expected %d", rec.Idx, i)}
			continue
		}
		canonical, err := minute.Canonical(rec.Payload)
		if err != nil {
			res.BrokenIndex = i
			res.Break = &ChainBreakError{Index: i, Reason: err.Error()}
			continue
		}
		link := chainLink(prev, canonical)
		stored, err := hex.DecodeString(rec.Chain.Hash)
		if err != nil || len(stored) != HashSize {
			res.BrokenIndex = i
			res.Break = &ChainBreakError{Index: i, Reason: "malformed stored hash"}
			continue
		}
		if subtle.ConstantTimeCompare(stored, link.Hash[:]) != 1 {
			res.BrokenIndex = i
			res.Break = &ChainBreakError{Index: i, Reason: "hash mismatch"}
			continue
		}
		prev = link.Hash
	}
	return res
}

// VerifyAppend recomputes the hash a record must carry when appended after
// prevHashHex (empty for the genesis record) and compares it to the stored
// one. It is the incremental check used on ingest paths.
func VerifyAppend(prevHashHex string, rec minute.Record, expectIdx int) error {
	if rec.Idx != expectIdx {
		return &SequenceError{Got: rec.Idx, Want: expectIdx}
	}
	var prev [HashSize]byte
	if prevHashHex != "" {
		decoded, err := hex.DecodeString(prevHashHex)
		if err != nil || len(decoded) != HashSize {
			return fmt.Errorf("chain idx %d: malformed previous hash", rec.Idx)
		}
		copy(prev[:], decoded)
	}
	canonical, err := minute.Canonical(rec.Payload)
	if err != nil {
		return fmt.Errorf("chain idx %d: %w", rec.Idx, err)
	}
	link := chainLink(prev, canonical)
	if link.HashHex() != rec.Chain.Hash {
		return &ChainBreakError{Index: rec.Idx, Reason: "hash mismatch"}
	}
	return nil
}
