package secret

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/haridsync/internal/source"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func sharedKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		key, err := GenerateKey()
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

func encrypt(t *testing.T, key *rsa.PrivateKey, plain string) string {
	t.Helper()
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, []byte(plain))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ct)
}

func TestLoadPrivateKey(t *testing.T) {
	key := sharedKey(t)

	t.Run("pkcs1", func(t *testing.T) {
		loaded, err := LoadPrivateKey(PrivateKeyPEM(key))
		require.NoError(t, err)
		assert.True(t, key.Equal(loaded))
	})

	t.Run("pkcs8", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		loaded, err := LoadPrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
		require.NoError(t, err)
		assert.True(t, key.Equal(loaded))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := LoadPrivateKey([]byte("not a key"))
		var keyErr *KeyLoadError
		assert.True(t, errors.As(err, &keyErr))
	})

	t.Run("wrong block", func(t *testing.T) {
		_, err := LoadPrivateKey(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}}))
		var keyErr *KeyLoadError
		assert.True(t, errors.As(err, &keyErr))
	})
}

func TestDecrypt(t *testing.T) {
	key := sharedKey(t)
	d := NewDecryptor(key, 0)

	plain, err := d.Decrypt(encrypt(t, key, "S3cret!pass"))
	require.NoError(t, err)
	assert.Equal(t, "S3cret!pass", plain)

	_, err = d.Decrypt("%%%")
	var decErr *DecryptionError
	require.True(t, errors.As(err, &decErr))

	bogus := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 256))
	_, err = d.Decrypt(bogus)
	require.True(t, errors.As(err, &decErr))
	assert.NotContains(t, err.Error(), bogus)
}

func TestCredential(t *testing.T) {
	key := sharedKey(t)
	d := NewDecryptor(key, 24)

	t.Run("ciphertext is decrypted and encoded", func(t *testing.T) {
		rec := source.Record{CredentialField: encrypt(t, key, "pw")}
		encoded, present, err := d.Credential(rec, false)
		require.NoError(t, err)
		assert.True(t, present)
		want, _ := EncodeADPassword("pw")
		assert.Equal(t, want, encoded)
	})

	t.Run("existing entry without ciphertext is untouched", func(t *testing.T) {
		encoded, present, err := d.Credential(source.Record{CredentialField: ""}, false)
		require.NoError(t, err)
		assert.False(t, present)
		assert.Nil(t, encoded)
	})

	t.Run("new entry without ciphertext gets a placeholder", func(t *testing.T) {
		encoded, present, err := d.Credential(source.Record{}, true)
		require.NoError(t, err)
		assert.True(t, present)
		// quotes plus 24 characters, two bytes each
		assert.Len(t, encoded, (24+2)*2)
	})

	t.Run("undecryptable ciphertext is an error", func(t *testing.T) {
		_, present, err := d.Credential(source.Record{CredentialField: "AAAA"}, true)
		assert.False(t, present)
		var decErr *DecryptionError
		assert.True(t, errors.As(err, &decErr))
	})
}

func TestEncodeADPassword(t *testing.T) {
	encoded, err := EncodeADPassword("ab")
	require.NoError(t, err)
	assert.Equal(t, []byte{'"', 0, 'a', 0, 'b', 0, '"', 0}, encoded)
}

func TestGeneratePlaceholder(t *testing.T) {
	for _, n := range []int{1, 8, 24, 64} {
		p, err := GeneratePlaceholder(nil, n)
		require.NoError(t, err)
		assert.Len(t, p, n)
	}

	a, _ := GeneratePlaceholder(nil, 24)
	b, _ := GeneratePlaceholder(nil, 24)
	assert.NotEqual(t, a, b)

	_, err := GeneratePlaceholder(nil, 0)
	assert.Error(t, err)

	_, err = GeneratePlaceholder(bytes.NewReader(nil), 24)
	assert.Error(t, err)
}

func TestPublicKeyPEM(t *testing.T) {
	key := sharedKey(t)
	out, err := PublicKeyPEM(key)
	require.NoError(t, err)

	block, _ := pem.Decode(out)
	require.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))
}
