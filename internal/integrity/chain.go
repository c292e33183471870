// Package integrity binds minute payloads into a tamper-evident hash chain
// and signs the canonical payload bytes with a domain-separated Ed25519
// signature (or an explicitly weaker demo scheme).
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/avsafe-data/avsafe.report/internal/minute"
)

// HashSize is the byte length of a chain hash.
const HashSize = sha256.Size

// Link is the chain element for one payload: the rolling hash and the hash
// it was chained onto. The previous hash of the genesis record is all zero
// bytes.
type Link struct {
	PrevHash [HashSize]byte
	Hash     [HashSize]byte
}

// HashHex returns the lowercase hex form of the link hash as carried in the
// record's chain block.
func (l Link) HashHex() string {
	return hex.EncodeToString(l.Hash[:])
}

// SequenceError reports a payload arriving out of order during chain
// building. It is fatal for the session's chain.
type SequenceError struct {
	Got  int
	Want int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("chain: payload idx %d, expected %d", e.Got, e.Want)
}

// Builder produces the rolling hash chain for one session. Its state is
// owned exclusively by the caller and chain hashing is strictly sequential:
// the hash at index i+1 cannot be computed before the hash at index i.
type Builder struct {
	prev [HashSize]byte
	next int
}

// NewBuilder returns a builder positioned at the genesis record, with the
// previous hash set to 32 zero bytes.
func NewBuilder() *Builder {
	return &Builder{}
}

// Next returns the index the builder expects from the next payload.
func (b *Builder) Next() int {
	return b.next
}

// Append chains one payload: hash = SHA-256(prev_hash || canonical(payload)).
// The payload index must equal the running count, otherwise a *SequenceError
// is returned and the builder state is unchanged.
func (b *Builder) Append(p minute.Payload) (Link, error) {
	if p.Idx != b.next {
		return Link{}, &SequenceError{Got: p.Idx, Want: b.next}
	}
	canonical, err := minute.Canonical(p)
	if err != nil {
		return Link{}, fmt.Errorf("chain idx %d: %w", p.Idx, err)
	}
	link := chainLink(b.prev, canonical)
	b.prev = link.Hash
	b.next++
	return link, nil
}

func chainLink(prev [HashSize]byte, canonical []byte) Link {
	h := sha256.New()
	h.Write(prev[:])
	h.Write(canonical)
	var link Link
	link.PrevHash = prev
	h.Sum(link.Hash[:0])
	return link
}

// BuildResult is the outcome of a batch chain build. Completed links remain
// valid when the build is aborted early; Incomplete marks the truncation.
type BuildResult struct {
	Links      []Link
	Incomplete bool
}

// Build chains an ordered payload sequence, honouring ctx cancellation
// between records. On cancellation the result carries the links finished so
// far with Incomplete set, together with the context error.
func Build(ctx context.Context, payloads []minute.Payload) (BuildResult, error) {
	b := NewBuilder()
	res := BuildResult{Links: make([]Link, 0, len(payloads))}
	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			res.Incomplete = true
			return res, err
		}
		link, err := b.Append(p)
		if err != nil {
			res.Incomplete = true
			return res, err
		}
		res.Links = append(res.Links, link)
	}
	return res, nil
}
