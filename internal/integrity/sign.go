package integrity

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/monitoring"
)

// SignDomainV1 is the versioned domain-separation prefix prepended to the
// canonical payload bytes before signing. Changing the protocol version
// requires a new prefix so signatures cannot be replayed across versions.
const SignDomainV1 = "avsafe:sign:v1"

// Scheme identifies how a record was signed.
type Scheme string

const (
	// SchemeEd25519 is the real cryptographic scheme.
	SchemeEd25519 Scheme = "ed25519"
	// SchemeDemo is a SHA-256 placeholder for environments without a
	// signing backend. It carries no authenticity and is rejected whenever
	// strict mode is enabled.
	SchemeDemo Scheme = "demo"
)

// demoSecret keys the demo MAC. It is public knowledge; the demo scheme only
// keeps the pipeline runnable, it proves nothing.
var demoSecret = []byte("demo-secret")

// ErrCryptoUnavailable is returned when strict mode demands a real signing
// backend and none is available.
var ErrCryptoUnavailable = errors.New("integrity: real signing backend required in strict mode")

// ed25519Supported is a hook for exercising the strict-mode fallback path in
// tests; in production builds the stdlib backend is always present.
var ed25519Supported = true

// SignerConfig is the explicit configuration for a signer. Nothing here is
// read from the process environment; callers thread values through from the
// configuration edge.
type SignerConfig struct {
	// Strict forbids the demo fallback: signing fails with
	// ErrCryptoUnavailable rather than producing an unauthenticated record.
	Strict bool

	// SeedHex optionally fixes the Ed25519 private seed (32 bytes hex) for
	// deterministic local testing. Never production-safe.
	SeedHex string
}

// Signer signs canonical payload bytes. A signer is immutable after
// construction and safe for concurrent use.
type Signer struct {
	scheme Scheme
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
}

// NewSigner builds a signer from cfg. Without a backend it degrades to the
// demo scheme (loudly) unless strict mode forbids it.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if !ed25519Supported {
		if cfg.Strict {
			return nil, ErrCryptoUnavailable
		}
		monitoring.Logf("integrity: WARNING no signing backend, falling back to unauthenticated %q scheme", SchemeDemo)
		return &Signer{scheme: SchemeDemo}, nil
	}

	var (
		priv ed25519.PrivateKey
		pub  ed25519.PublicKey
	)
	if cfg.SeedHex != "" {
		seed, err := hex.DecodeString(cfg.SeedHex)
		if err != nil {
			return nil, fmt.Errorf("integrity: bad signing seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("integrity: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		priv = ed25519.NewKeyFromSeed(seed)
		pub = priv.Public().(ed25519.PublicKey)
	} else {
		var err error
		pub, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			if cfg.Strict {
				return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
			}
			monitoring.Logf("integrity: WARNING key generation failed (%v), falling back to %q scheme", err, SchemeDemo)
			return &Signer{scheme: SchemeDemo}, nil
		}
	}
	return &Signer{scheme: SchemeEd25519, priv: priv, pub: pub}, nil
}

// Scheme returns the scheme this signer produces.
func (s *Signer) Scheme() Scheme {
	return s.scheme
}

// PublicKeyHex returns the hex-encoded public key, or "" for the demo
// scheme.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Sign produces the signature block for a payload. The signed message is
// SignDomainV1 followed by the canonical payload bytes.
func (s *Signer) Sign(p minute.Payload) (minute.ChainBlock, error) {
	canonical, err := minute.Canonical(p)
	if err != nil {
		return minute.ChainBlock{}, err
	}
	msg := signingMessage(canonical)

	switch s.scheme {
	case SchemeEd25519:
		sig := ed25519.Sign(s.priv, msg)
		return minute.ChainBlock{
			Scheme:       string(SchemeEd25519),
			SignatureHex: hex.EncodeToString(sig),
			PublicKeyHex: hex.EncodeToString(s.pub),
		}, nil
	case SchemeDemo:
		return minute.ChainBlock{
			Scheme:       string(SchemeDemo),
			SignatureHex: hex.EncodeToString(demoMAC(msg)),
		}, nil
	default:
		return minute.ChainBlock{}, fmt.Errorf("integrity: unknown scheme %q", s.scheme)
	}
}

func signingMessage(canonical []byte) []byte {
	msg := make([]byte, 0, len(SignDomainV1)+len(canonical))
	msg = append(msg, SignDomainV1...)
	return append(msg, canonical...)
}

func demoMAC(msg []byte) []byte {
	h := sha256.New()
	h.Write(demoSecret)
	h.Write(msg)
	return h.Sum(nil)
}

// SignatureStatus is the per-record verification outcome. Verification never
// throws on a bad signature; the status is surfaced alongside the record so
// reports can show signed-valid, signed-invalid and unsigned rows.
type SignatureStatus string

const (
	SignatureValid   SignatureStatus = "valid"
	SignatureInvalid SignatureStatus = "invalid"
	SignatureMissing SignatureStatus = "missing"
)

// VerifySignature checks the signature block of a record against its
// payload. strict additionally rejects the demo scheme as invalid.
func VerifySignature(p minute.Payload, chain minute.ChainBlock, strict bool) SignatureStatus {
	if chain.Scheme == "" && chain.SignatureHex == "" {
		return SignatureMissing
	}
	canonical, err := minute.Canonical(p)
	if err != nil {
		return SignatureInvalid
	}
	msg := signingMessage(canonical)
	sig, err := hex.DecodeString(chain.SignatureHex)
	if err != nil {
		return SignatureInvalid
	}

	switch Scheme(chain.Scheme) {
	case SchemeEd25519:
		pub, err := hex.DecodeString(chain.PublicKeyHex)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return SignatureInvalid
		}
		if ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
			return SignatureValid
		}
		return SignatureInvalid
	case SchemeDemo:
		if strict {
			return SignatureInvalid
		}
		if hmac.Equal(sig, demoMAC(msg)) {
			return SignatureValid
		}
		return SignatureInvalid
	default:
		return SignatureInvalid
	}
}
