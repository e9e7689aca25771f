// Package secret recovers encrypted credentials from source records and
// encodes them for the directory.
package secret

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/isometry/haridsync/internal/source"
)

// CredentialField is the record field holding the encrypted password.
const CredentialField = "password_crypt"

// DefaultPlaceholderLength is the length of generated placeholder passwords.
const DefaultPlaceholderLength = 24

// KeyLoadError reports an unusable private key. It is fatal to a run.
type KeyLoadError struct {
	Reason string
	Err    error
}

func (e *KeyLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to load private key: %s: %v", e.Reason, e.Err)
	}
	return "failed to load private key: " + e.Reason
}

func (e *KeyLoadError) Unwrap() error {
	return e.Err
}

// DecryptionError reports a ciphertext that could not be decrypted.
// It never carries the ciphertext or any plaintext.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "failed to decrypt credential: " + e.Reason
}

// LoadPrivateKey parses a PEM encoded RSA key in PKCS#1 or PKCS#8 form.
func LoadPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyLoadError{Reason: "no PEM block found"}
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &KeyLoadError{Reason: "unsupported key encoding " + block.Type, Err: err}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &KeyLoadError{Reason: fmt.Sprintf("expected an RSA key, got %T", parsed)}
	}
	return key, nil
}

// Decryptor decrypts credentials with one private key.
type Decryptor struct {
	key               *rsa.PrivateKey
	placeholderLength int
	random            io.Reader
}

// NewDecryptor returns a decryptor for key. A non-positive placeholderLength
// uses DefaultPlaceholderLength.
func NewDecryptor(key *rsa.PrivateKey, placeholderLength int) *Decryptor {
	if placeholderLength <= 0 {
		placeholderLength = DefaultPlaceholderLength
	}
	return &Decryptor{key: key, placeholderLength: placeholderLength, random: rand.Reader}
}

// Decrypt decodes base64 ciphertext and decrypts it with RSA PKCS#1 v1.5.
func (d *Decryptor) Decrypt(ciphertext string) (string, error) {
	if d == nil || d.key == nil {
		return "", &DecryptionError{Reason: "no private key loaded"}
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", &DecryptionError{Reason: "ciphertext is not valid base64"}
	}

	plain, err := rsa.DecryptPKCS1v15(d.random, d.key, raw)
	if err != nil {
		return "", &DecryptionError{Reason: "ciphertext does not match the private key"}
	}
	return string(plain), nil
}

// Credential returns the directory encoded password for rec. present is
// false when there is nothing to write: no ciphertext and an existing entry.
// New entries without ciphertext get a random placeholder.
func (d *Decryptor) Credential(rec source.Record, isNew bool) (encoded []byte, present bool, err error) {
	ciphertext, ok := rec.String(CredentialField)
	if ok && strings.TrimSpace(ciphertext) != "" {
		plain, err := d.Decrypt(ciphertext)
		if err != nil {
			return nil, false, err
		}
		encoded, err := EncodeADPassword(plain)
		if err != nil {
			return nil, false, err
		}
		return encoded, true, nil
	}

	if !isNew {
		return nil, false, nil
	}

	placeholder, err := GeneratePlaceholder(d.random, d.placeholderLength)
	if err != nil {
		return nil, false, err
	}
	encoded, err = EncodeADPassword(placeholder)
	if err != nil {
		return nil, false, err
	}
	return encoded, true, nil
}

// EncodeADPassword returns the unicodePwd form of password: the quoted
// string in UTF-16LE without a byte order mark.
func EncodeADPassword(password string) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	out, err := enc.String(`"` + password + `"`)
	if err != nil {
		return nil, errors.New("password is not encodable as UTF-16")
	}
	return []byte(out), nil
}

// GeneratePlaceholder returns n characters of base64 encoded randomness.
func GeneratePlaceholder(random io.Reader, n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("placeholder length must be positive, got %d", n)
	}
	if random == nil {
		random = rand.Reader
	}

	buf := make([]byte, base64.StdEncoding.DecodedLen(n)+3)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf)[:n], nil
}
