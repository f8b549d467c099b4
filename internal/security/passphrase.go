// Package security hashes and verifies paste passphrases with Argon2id.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed passphrase hash")

var b64 = base64.RawStdEncoding

// Params are the Argon2id cost settings written into every hash.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultParams is what HashPassphrase uses.
var DefaultParams = Params{Time: 1, Memory: 64 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

// Hash returns the PHC string for passphrase, or "" for an empty passphrase,
// which marks a paste as unprotected.
func (p Params) Hash(passphrase string) (string, error) {
	if passphrase == "" {
		return "", nil
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generate salt")
	}
	h := phc{params: p, salt: salt}
	h.key = argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return h.String(), nil
}

// HashPassphrase hashes with DefaultParams.
func HashPassphrase(passphrase string) (string, error) {
	return DefaultParams.Hash(passphrase)
}

// VerifyPassphrase reports whether passphrase matches encoded, using the cost
// recorded in the hash. An empty hash only matches the empty passphrase.
func VerifyPassphrase(encoded, passphrase string) (bool, error) {
	if encoded == "" {
		return passphrase == "", nil
	}
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	p := h.params
	got := argon2.IDKey([]byte(passphrase), h.salt, p.Time, p.Memory, p.Threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// phc is a decoded $argon2id$v=..$m=..,t=..,p=..$salt$key string.
type phc struct {
	params Params
	salt   []byte
	key    []byte
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func parsePHC(encoded string) (phc, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return phc{}, ErrMalformedHash
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, errors.Wrapf(ErrMalformedHash, "unsupported version %q", fields[2])
	}

	var h phc
	for _, kv := range strings.Split(fields[3], ",") {
		name, raw, _ := strings.Cut(kv, "=")
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || n == 0 {
			return phc{}, errors.Wrapf(ErrMalformedHash, "param %q", kv)
		}
		switch name {
		case "m":
			h.params.Memory = uint32(n)
		case "t":
			h.params.Time = uint32(n)
		case "p":
			if n > 255 {
				return phc{}, errors.Wrapf(ErrMalformedHash, "param %q", kv)
			}
			h.params.Threads = uint8(n)
		default:
			return phc{}, errors.Wrapf(ErrMalformedHash, "unknown param %q", name)
		}
	}
	if h.params.Memory == 0 || h.params.Time == 0 || h.params.Threads == 0 {
		return phc{}, errors.Wrap(ErrMalformedHash, "missing params")
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil {
		return phc{}, errors.Wrap(ErrMalformedHash, "salt")
	}
	if h.key, err = b64.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return phc{}, errors.Wrap(ErrMalformedHash, "key")
	}
	return h, nil
}
