package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keyPEM := testKeyPEM(t)

	blob, err := EncryptKey(keyPEM, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyPEM(t), "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptRejectsNonPEM(t *testing.T) {
	_, err := EncryptKey([]byte("deadbeef"), "pw")
	assert.Error(t, err)
}

func TestEncryptRejectsEmptyPassword(t *testing.T) {
	_, err := EncryptKey(testKeyPEM(t), "")
	assert.Error(t, err)
}

func TestLoadKeyPlainFile(t *testing.T) {
	keyPEM := testKeyPEM(t)
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, keyPEM, 0o600))

	got, err := LoadKey(KeyConfig{PlainKeyPath: path})
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)
}

func TestLoadKeyEncryptedFile(t *testing.T) {
	keyPEM := testKeyPEM(t)
	blob, err := EncryptKey(keyPEM, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.enc.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)
}

func TestLoadKeyNoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.Error(t, err)
}
