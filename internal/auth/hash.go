package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16

	apiKeyPrefix = "shk_"
	apiKeyBytes  = 32
)

// GenerateAPIKey returns a new random API key and its Argon2id hash. The key
// is shown to the operator once; only the hash goes into SHIKO_API_KEY_HASH.
func GenerateAPIKey() (key, hash string, err error) {
	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("auth: generate api key: %w", err)
	}
	key = apiKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	hash, err = HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashAPIKey hashes an API key using Argon2id. The result is
// "<base64 salt>$<base64 hash>".
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

// VerifyAPIKey checks an API key against an Argon2id hash.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	salt, expected, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(expected, computed) == 1, nil
}

// CheckHash reports whether encoded is a well-formed hash, so a bad
// SHIKO_API_KEY_HASH fails at startup instead of on the first login.
func CheckHash(encoded string) error {
	_, _, err := decodeHash(encoded)
	return err
}

func decodeHash(encoded string) (salt, hash []byte, err error) {
	saltB64, hashB64, ok := strings.Cut(encoded, "$")
	if !ok {
		return nil, nil, fmt.Errorf("auth: invalid hash format")
	}
	if salt, err = base64.StdEncoding.DecodeString(saltB64); err != nil {
		return nil, nil, fmt.Errorf("auth: decode salt: %w", err)
	}
	if hash, err = base64.StdEncoding.DecodeString(hashB64); err != nil {
		return nil, nil, fmt.Errorf("auth: decode hash: %w", err)
	}
	if len(salt) != saltLen || len(hash) != argonKeyLen {
		return nil, nil, fmt.Errorf("auth: invalid hash lengths")
	}
	return salt, hash, nil
}
