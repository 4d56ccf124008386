// Package identifier generates replacement identifier values and decides
// which shape a given field needs.
package identifier

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultTokenBytes is the byte length of hex tokens (64 hex characters).
const DefaultTokenBytes = 32

// Kind is the shape of a generated identifier.
type Kind int

const (
	UUID Kind = iota
	Hex
	Hash
)

func (k Kind) String() string {
	switch k {
	case Hex:
		return "hex"
	case Hash:
		return "hash"
	default:
		return "uuid"
	}
}

// rule maps a lowercased field name to a Kind when match returns true.
type rule struct {
	match func(name string) bool
	kind  Kind
}

func exactly(s string) func(string) bool {
	s = strings.ToLower(s)
	return func(name string) bool { return name == s }
}

func containsAll(subs ...string) func(string) bool {
	return func(name string) bool {
		for _, s := range subs {
			if !strings.Contains(name, s) {
				return false
			}
		}
		return true
	}
}

// rules are evaluated in order; the first match wins. The two telemetry
// overrides must stay ahead of the generic "machine" rule.
var rules = []rule{
	{exactly("telemetry.devDeviceId"), UUID},
	{exactly("telemetry.macMachineId"), Hash},
	{containsAll("mac", "machine"), Hash},
	{containsAll("machine"), Hex},
	{containsAll("device"), UUID},
	{containsAll("user"), UUID},
	{containsAll("sqm"), Hash},
}

// KindForField returns the identifier shape for a field or file name.
// Unmatched names get a UUID.
func KindForField(name string) Kind {
	lower := strings.ToLower(name)
	for _, r := range rules {
		if r.match(lower) {
			return r.kind
		}
	}
	return UUID
}

// ForField generates a fresh value of the shape KindForField picks.
func ForField(name string) string {
	return New(KindForField(name))
}

// New generates a fresh value of the given kind.
func New(kind Kind) string {
	switch kind {
	case Hex:
		return NewHexToken(DefaultTokenBytes)
	case Hash:
		return NewHashToken()
	default:
		return NewUUID()
	}
}

// NewUUID returns a random version 4 UUID in canonical lowercase form.
func NewUUID() string {
	return uuid.NewString()
}

// NewHexToken returns n cryptographically random bytes as lowercase hex.
// Non-positive n uses DefaultTokenBytes.
func NewHexToken(n int) string {
	if n <= 0 {
		n = DefaultTokenBytes
	}
	return hex.EncodeToString(randomBytes(n))
}

// NewHashToken returns the SHA-256 digest of fresh random input as
// lowercase hex.
func NewHashToken() string {
	sum := sha256.Sum256(randomBytes(DefaultTokenBytes))
	return hex.EncodeToString(sum[:])
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return b
}

var (
	uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	hexPattern  = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Valid reports whether value has the shape of kind.
func Valid(kind Kind, value string) bool {
	switch kind {
	case Hex, Hash:
		return hexPattern.MatchString(value)
	default:
		return uuidPattern.MatchString(value)
	}
}
