package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/d1str0/pkcs7"
)

// CloudSyncAlgorithm is the fixed value of the `algorithm` field in the
// cloud-sync wire payload.
const CloudSyncAlgorithm = "AES-256-CBC+RSA-OAEP"

// EncryptedPayload is the `encrypted_data` object of the cloud-sync wire
// payload: a fresh AES-256 key encrypts the plaintext under CBC+PKCS#7,
// and that key is itself RSA-OAEP(SHA-256)-encrypted under the server's
// public key so only the backup server can recover it.
type EncryptedPayload struct {
	EncryptedData string `json:"encrypted_data"`
	EncryptedKey  string `json:"encrypted_key"`
	IV            string `json:"iv"`
	Algorithm     string `json:"algorithm"`
}

// CloudSyncPayload is the full wire JSON sent to CLOUD_SYNC.endpoint_url.
type CloudSyncPayload struct {
	Username      string           `json:"username"`
	EncryptedData EncryptedPayload `json:"encrypted_data"`
}

// EncryptAESCBC encrypts plaintext (the INI-serialized config.ini contents)
// under a freshly generated 256-bit AES key in CBC mode with PKCS#7
// padding and a random IV, then wraps the AES key with RSA-OAEP(SHA-256)
// under publicKey. It returns the pieces needed to build EncryptedPayload.
func EncryptAESCBC(plaintext []byte, publicKey *rsa.PublicKey) (ciphertext, encryptedKey, iv []byte, err error) {
	key := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, key); err != nil {
		return nil, nil, nil, fmt.Errorf("generating AES key: %w", err)
	}

	iv = make([]byte, aes.BlockSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("generating IV: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	padded := pkcs7.Pad(plaintext, block.BlockSize())

	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	encryptedKey, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, key, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("wrapping AES key: %w", err)
	}

	return ciphertext, encryptedKey, iv, nil
}

// BuildCloudSyncPayload produces the full wire payload for one cloud-sync
// upload: username plus the hybrid-encrypted config.ini bytes.
func BuildCloudSyncPayload(username string, configIni []byte, publicKey *rsa.PublicKey) (*CloudSyncPayload, error) {
	ciphertext, encryptedKey, iv, err := EncryptAESCBC(configIni, publicKey)
	if err != nil {
		return nil, err
	}
	return &CloudSyncPayload{
		Username: username,
		EncryptedData: EncryptedPayload{
			EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
			EncryptedKey:  base64.StdEncoding.EncodeToString(encryptedKey),
			IV:            base64.StdEncoding.EncodeToString(iv),
			Algorithm:     CloudSyncAlgorithm,
		},
	}, nil
}

// LoadPublicKey parses a base64-encoded, PEM-wrapped PKCS1 RSA public key,
// the counterpart to LoadPrivateKey on the backup server side.
func LoadPublicKey(publicKeyBase64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	block, _ := pem.Decode(der)
	if block == nil {
		return nil, fmt.Errorf("decoding PEM block from public key")
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return pub, nil
}
