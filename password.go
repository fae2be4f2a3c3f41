package accounts

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/argon2"
)

// argon2id parameters. These follow the library defaults the previous
// backend ran with; changing them only affects newly issued hashes since
// the parameters travel inside the encoded string.
const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// MinPasswordScore is the lowest zxcvbn score (0..4) accepted for a new
// password. Fixed policy, not configurable per call.
const MinPasswordScore = 3

// HashPassword derives an argon2id hash with a fresh random salt, so two
// calls on the same password never produce the same encoding.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read salt entropy")
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// ComparePasswordAndHash validates the cleartext against an encoded
// argon2id hash. It fails closed: empty input, malformed encodings, and
// unknown variants all come back as ErrMismatchedHashAndPassword so the
// caller can treat every failure as "not authenticated".
func ComparePasswordAndHash(password, hash string) error {
	if password == "" || hash == "" {
		return ErrMismatchedHashAndPassword
	}

	salt, key, params, err := decodeArgon2Hash(hash)
	if err != nil {
		return ErrMismatchedHashAndPassword
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(key)))

	if subtle.ConstantTimeCompare(candidate, key) != 1 {
		return ErrMismatchedHashAndPassword
	}

	return nil
}

// PasswordScore runs the zxcvbn estimator. userInputs (email, username)
// penalize passwords derived from account attributes.
func PasswordScore(password string, userInputs ...string) int {
	return zxcvbn.PasswordStrength(password, userInputs).Score
}

// ValidateNewPassword enforces the strength gate and the confirmation
// match for a password change. Check order mirrors the HTTP surface:
// strength first, then confirmation.
func ValidateNewPassword(newPassword, confirmPassword string, userInputs ...string) error {
	if PasswordScore(newPassword, userInputs...) < MinPasswordScore {
		return ErrPasswordInsufficient
	}
	if newPassword != confirmPassword {
		return ErrPasswordMismatched
	}
	return nil
}

type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
}

func decodeArgon2Hash(encoded string) (salt, key []byte, params argon2Params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported hash format")
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, params, err
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, params, err
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, params, err
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, params, err
	}

	return salt, key, params, nil
}
