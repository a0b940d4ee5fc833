package auditchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Supported digest algorithms. All produce 256-bit digests (64 hex characters).
const (
	AlgorithmSHA256  = "SHA-256"
	AlgorithmSHA3    = "SHA3-256"
	AlgorithmBLAKE2b = "BLAKE2b-256"
)

// genesisSeed is digested to produce the public sentinel that genesis links to.
const genesisSeed = "GENESIS"

// Hasher computes entry digests over a canonical, pipe-separated serialization:
//
//	epochMillis|userPrincipal|action|resourceType|resourceId|metadataJSON|previousHash
//
// Absent fields serialize as the empty string; metadata is JSON with sorted keys.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
	sentinel  string
}

// NewHasher returns a Hasher for the named algorithm. An empty name selects SHA-256.
func NewHasher(algorithm string) (*Hasher, error) {
	h := &Hasher{algorithm: algorithm}
	switch strings.ToUpper(algorithm) {
	case "", "SHA-256", "SHA256":
		h.algorithm = AlgorithmSHA256
		h.newHash = sha256.New
	case "SHA3-256":
		h.algorithm = AlgorithmSHA3
		h.newHash = sha3.New256
	case "BLAKE2B-256":
		h.algorithm = AlgorithmBLAKE2b
		h.newHash = func() hash.Hash {
			d, _ := blake2b.New256(nil) // only fails for oversized keys
			return d
		}
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	h.sentinel = h.digest(genesisSeed)
	return h, nil
}

// Algorithm returns the canonical name of the digest algorithm.
func (h *Hasher) Algorithm() string { return h.algorithm }

// Sentinel is the previous hash of the genesis entry: the digest of "GENESIS".
func (h *Hasher) Sentinel() string { return h.sentinel }

// EntryHash computes the hash of e as if it were linked after previousHash.
// e.PreviousHash and e.Hash are ignored.
func (h *Hasher) EntryHash(e *Entry, previousHash string) (string, error) {
	meta, err := CanonicalMetadata(e.Metadata)
	if err != nil {
		return "", err
	}
	return h.digest(canonicalize(e.Timestamp, e.UserPrincipal, e.Action, e.ResourceType, e.ResourceID, meta, previousHash)), nil
}

func (h *Hasher) digest(s string) string {
	d := h.newHash()
	d.Write([]byte(s))
	return hex.EncodeToString(d.Sum(nil))
}

func canonicalize(ts time.Time, principal string, action Action, rt ResourceType, resourceID, meta, previousHash string) string {
	var millis string
	if !ts.IsZero() {
		millis = strconv.FormatInt(ts.UnixMilli(), 10)
	}
	return strings.Join([]string{
		millis, principal, string(action), string(rt), resourceID, meta, previousHash,
	}, "|")
}

// CanonicalMetadata serializes metadata as JSON with map keys in sorted order.
// Nil and empty maps serialize to "". Values are normalized through a decode
// round-trip first, so structs and other typed values hash the same way they
// will after being read back from storage.
func CanonicalMetadata(m map[string]any) (string, error) {
	_, s, err := normalizeMetadata(m)
	return s, err
}

// normalizeMetadata returns the stored form of m and its canonical text.
func normalizeMetadata(m map[string]any) (map[string]any, string, error) {
	if len(m) == 0 {
		return nil, "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	norm, err := decodeMetadata(string(b))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return norm, string(out), nil
}

// decodeMetadata parses stored canonical metadata. Numbers are kept as json.Number so
// that re-serializing reproduces the stored text exactly.
func decodeMetadata(raw string) (map[string]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

// IsDigest reports whether s looks like a 256-bit lowercase hex digest.
func IsDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
