// Package crypto implements content-at-rest encryption for memory
// content: PBKDF2-HMAC-SHA256 key derivation, an AES-256-GCM envelope
// with versioned secondary keys, and a rotate-key helper.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/errs"
)

const (
	pbkdf2Salt       = "openmemory-salt-v1"
	pbkdf2Iterations = 100_000
	pbkdf2KeyLen     = 32
	envelopePrefix   = "enc:"
	minKeyLen        = 16
)

// DeriveKey derives a 32-byte AES-256 key from passphrase via PBKDF2-HMAC-SHA256.
func DeriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(pbkdf2Salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
}

// Box encrypts/decrypts content at rest under a primary key plus an ordered
// list of rotating secondary keys. A zero-value Box (no primary key) is a
// transparent pass-through.
type Box struct {
	enabled   bool
	primary   []byte
	secondary [][]byte
}

// NewBox builds a Box. primaryPassphrase and each secondary passphrase are
// run through DeriveKey. If enabled is false the Box passes content through
// unchanged; if enabled is true, a primary passphrase shorter than 16
// characters (including an empty one) is an error. Secondary passphrases
// under 16 characters are skipped.
func NewBox(enabled bool, primaryPassphrase string, secondaryPassphrases []string) (*Box, error) {
	if !enabled {
		return &Box{enabled: false}, nil
	}
	if len(primaryPassphrase) < minKeyLen {
		return nil, errs.Wrapf(errs.ErrEncryption, "primary key must be at least %d characters", minKeyLen)
	}
	b := &Box{enabled: true, primary: DeriveKey(primaryPassphrase)}
	for _, p := range secondaryPassphrases {
		if len(p) < minKeyLen {
			continue
		}
		b.secondary = append(b.secondary, DeriveKey(p))
	}
	return b, nil
}

// Enabled reports whether this Box performs real encryption.
func (b *Box) Enabled() bool { return b != nil && b.enabled }

// Encrypt seals plaintext under the primary key, returning the
// `enc:<iv_b64>:<ct_b64>` envelope. Pass-through when disabled.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if !b.Enabled() {
		return plaintext, nil
	}
	return seal(b.primary, plaintext)
}

func seal(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errs.Wrap(err, "create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errs.Wrap(err, "create GCM")
	}
	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return "", errs.Wrap(err, "generate iv")
	}
	ct := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens an envelope, trying the primary key then each secondary key
// in order. Strings without the `enc:` prefix are treated as legacy
// plaintext and returned unchanged.
func (b *Box) Decrypt(payload string) (string, error) {
	if !b.Enabled() || !strings.HasPrefix(payload, envelopePrefix) {
		return payload, nil
	}
	iv, ct, err := parseEnvelope(payload)
	if err != nil {
		return "", err
	}
	if pt, err := open(b.primary, iv, ct); err == nil {
		return pt, nil
	}
	for _, key := range b.secondary {
		if pt, err := open(key, iv, ct); err == nil {
			return pt, nil
		}
	}
	return "", errs.Wrapf(errs.ErrEncryption, "no configured key decrypts this envelope")
}

func parseEnvelope(payload string) (iv, ct []byte, err error) {
	body := strings.TrimPrefix(payload, envelopePrefix)
	parts := strings.SplitN(body, ":", 2)
	if len(parts) != 2 {
		return nil, nil, errs.Wrapf(errs.ErrEncryption, "malformed envelope")
	}
	iv, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, errs.Wrapf(errs.ErrEncryption, "malformed iv: %v", err)
	}
	ct, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, errs.Wrapf(errs.ErrEncryption, "malformed ciphertext: %v", err)
	}
	return iv, ct, nil
}

func open(key, iv, ct []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	pt, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// ReEncrypt decrypts payload with any configured key and re-seals it under
// the current primary key, for key-rotation rewrites.
func (b *Box) ReEncrypt(payload string) (string, error) {
	pt, err := b.Decrypt(payload)
	if err != nil {
		return "", err
	}
	return b.Encrypt(pt)
}

// WithRotatedPrimary returns a new Box where the current primary key becomes
// the first secondary key and newPrimaryPassphrase becomes the primary — the
// in-memory half of the rotate_key operation. The caller is
// responsible for re-encrypting persisted rows with the returned Box via
// ReEncrypt inside one transaction.
func (b *Box) WithRotatedPrimary(newPrimaryPassphrase string) (*Box, error) {
	if !b.Enabled() {
		return NewBox(true, newPrimaryPassphrase, nil)
	}
	if len(newPrimaryPassphrase) < minKeyLen {
		return nil, errs.Wrapf(errs.ErrEncryption, "new primary key must be at least %d characters", minKeyLen)
	}
	next := &Box{
		enabled: true,
		primary: DeriveKey(newPrimaryPassphrase),
	}
	next.secondary = append(next.secondary, b.primary)
	next.secondary = append(next.secondary, b.secondary...)
	return next, nil
}
