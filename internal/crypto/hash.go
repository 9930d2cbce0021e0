package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"
)

var ErrUnsupportedHash = errors.New("unsupported password hash format")

// HashParams configures the Argon2id cost of newly created hashes.
// Verification always uses the parameters embedded in the stored hash.
type HashParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams returns recommended Argon2id parameters for password hashing.
func DefaultHashParams() HashParams {
	return HashParams{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes passwords with Argon2id and verifies both Argon2 hashes and
// legacy bcrypt hashes.
type Hasher struct {
	cfg argon2.Config
}

// NewHasher creates a Hasher. Zero salt or key lengths fall back to the defaults.
func NewHasher(p HashParams) *Hasher {
	def := DefaultHashParams()
	if p.SaltLength == 0 {
		p.SaltLength = def.SaltLength
	}
	if p.KeyLength == 0 {
		p.KeyLength = def.KeyLength
	}

	return &Hasher{
		cfg: argon2.Config{
			HashLength:  p.KeyLength,
			SaltLength:  p.SaltLength,
			TimeCost:    p.Iterations,
			MemoryCost:  p.MemoryKiB,
			Parallelism: p.Parallelism,
			Mode:        argon2.ModeArgon2id,
			Version:     argon2.Version13,
		},
	}
}

// Hash returns the password hashed in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=2$<base64-salt>$<base64-hash>
func (h *Hasher) Hash(password string) (string, error) {
	encoded, err := h.cfg.HashEncoded([]byte(password))
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(encoded), nil
}

// Verify reports whether password matches the encoded hash. A mismatch is
// (false, nil); an error means the hash itself could not be used.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2"):
		return argon2.VerifyEncoded([]byte(password), []byte(encoded))

	case strings.HasPrefix(encoded, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil

	default:
		return false, ErrUnsupportedHash
	}
}
