// Package cryptox hashes short secrets (one-time codes) so they are never
// persisted in clear.
package cryptox

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/formbot/internal/common"
)

// SaltSize is the length of salts produced by NewSalt.
const SaltSize = 16

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// CodeParams is tuned for six-digit codes that live two minutes: the hash
// only has to outlast the code, and it runs on every login attempt.
var CodeParams = Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32}

// NewSalt returns SaltSize random bytes.
func NewSalt() []byte {
	return common.GenerateRandByteArray(SaltSize)
}

// HashCode derives the argon2id hash of code under salt.
func HashCode(code string, salt []byte) []byte {
	return HashWith(CodeParams, []byte(code), salt)
}

func HashWith(p Params, secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// VerifyCode reports, in constant time, whether code hashes to want.
func VerifyCode(code string, salt, want []byte) bool {
	got := HashCode(code, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}
