package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der := x509.MarshalPKCS1PrivateKey(priv)
	pemBlock := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
	privB64 := base64.StdEncoding.EncodeToString(pemBlock)

	return priv, privB64
}

func TestEncryptAESCBCRoundTrip(t *testing.T) {
	priv, privB64 := generateTestKeyPair(t)

	plaintext := []byte("[CAMERA]\ntype = dahua\ndevice_ip = 192.168.1.50\n")

	ciphertext, encryptedKey, iv, err := EncryptAESCBC(plaintext, &priv.PublicKey)
	require.NoError(t, err)

	loadedPriv, err := LoadPrivateKey(privB64)
	require.NoError(t, err)

	encKeyB64 := base64.StdEncoding.EncodeToString(encryptedKey)
	reader := io.NopCloser(bytes.NewReader(ciphertext))
	decryptedReader, err := DecryptAESCBCWithIV(reader, loadedPriv, encKeyB64, iv)
	require.NoError(t, err)
	defer decryptedReader.Close()

	out, err := io.ReadAll(decryptedReader)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestBuildCloudSyncPayload(t *testing.T) {
	priv, _ := generateTestKeyPair(t)

	payload, err := BuildCloudSyncPayload("camera-01", []byte("[STORAGE]\npath = /srv\n"), &priv.PublicKey)
	require.NoError(t, err)
	require.Equal(t, "camera-01", payload.Username)
	require.Equal(t, CloudSyncAlgorithm, payload.EncryptedData.Algorithm)
	require.NotEmpty(t, payload.EncryptedData.EncryptedData)
	require.NotEmpty(t, payload.EncryptedData.EncryptedKey)
	require.NotEmpty(t, payload.EncryptedData.IV)
}
