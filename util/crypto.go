package util

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"regexp"

	"github.com/payva/go-payva-auth/types"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// CustodyKeySize is the AEAD key length for sealing wallet private keys
	CustodyKeySize = chacha20poly1305.KeySize
	// MinMasterSecretBytes is the weakest master secret accepted at startup
	MinMasterSecretBytes = 32
)

var (
	scryptN   = 32768 // N = CPU/memory cost parameter
	scryptR   = 8     // r and p must satisfy r * p < 2^30
	scryptP   = 1
	scryptLen = 32 // 32 bytes long
)

// HashEmail derives a stable lookup key from an email address. The salt comes
// from operator config so the mapping database is useless on its own.
func HashEmail(email string, saltHex string) (string, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", err
	}
	dk, err := scrypt.Key([]byte(email), salt, scryptN, scryptR, scryptP, scryptLen)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(dk), nil
}

// DeriveCustodyKey stretches the operator-held master secret into the AEAD
// key used for sealing wallet private keys. Secrets shorter than
// MinMasterSecretBytes are rejected; the caller treats that as fatal at
// process start.
func DeriveCustodyKey(masterSecretHex string) ([]byte, error) {
	secret, err := hex.DecodeString(masterSecretHex)
	if err != nil {
		return nil, err
	}
	if len(secret) < MinMasterSecretBytes {
		return nil, types.ErrInvalidPrivateKey
	}
	return scrypt.Key(secret, []byte("payva-custody-v1"), scryptN, scryptR, scryptP, CustodyKeySize)
}

// SealPrivateKey encrypts a wallet private key with XChaCha20-Poly1305. The
// additional data binds the ciphertext to the owning identity and wallet, so
// it only opens for the exact pair that owns it. A fresh random nonce is
// prepended to the ciphertext.
func SealPrivateKey(custodyKey []byte, privateKey ed25519.PrivateKey, identityID, walletID string) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", types.ErrInvalidPrivateKey
	}
	aead, err := chacha20poly1305.NewX(custodyKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	aad := []byte(identityID + "|" + walletID)
	sealed := aead.Seal(nonce, nonce, privateKey, aad)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenPrivateKey reverses SealPrivateKey. Any mismatch in key, nonce or
// owning identity/wallet pair fails authentication.
func OpenPrivateKey(custodyKey []byte, sealedBase64 string, identityID, walletID string) (ed25519.PrivateKey, error) {
	sealed, err := base64.StdEncoding.DecodeString(sealedBase64)
	if err != nil {
		return nil, types.ErrInvalidPrivateKey
	}
	aead, err := chacha20poly1305.NewX(custodyKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, types.ErrInvalidPrivateKey
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	aad := []byte(identityID + "|" + walletID)
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, types.ErrUnauthorized
	}
	if len(plain) != ed25519.PrivateKeySize {
		return nil, types.ErrInvalidPrivateKey
	}
	return ed25519.PrivateKey(plain), nil
}

// GenerateNonce returns a URL-safe random string of n random bytes, used for
// anti-forgery state values and flow ids.
func GenerateNonce(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure means the process can't do anything useful
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

const recoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRecoveryCode returns a human-typable one-time code.
func GenerateRecoveryCode(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = recoveryCodeAlphabet[int(b[i])%len(recoveryCodeAlphabet)]
	}
	return string(b)
}

// Check if a base64 string is an ed25519 public key.
func IsEd25519PublicKey(b64Key string) bool {
	decoded, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return false
	}
	return len(decoded) == ed25519.PublicKeySize
}

// PublicKeyToWalletAddress derives the public wallet address from an ed25519
// public key: sha256 over the base64 key, last 20 bytes, 0x-prefixed hex.
func PublicKeyToWalletAddress(pubKey ed25519.PublicKey) (string, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return "", types.ErrInvalidPublicKey
	}
	h := sha256.New()
	h.Write([]byte(base64.StdEncoding.EncodeToString(pubKey)))
	output := hex.EncodeToString(h.Sum(nil))
	return "0x" + output[64-40:64], nil
}

// Sha256Hex returns the sha256 hash of the data as a hex string
func Sha256Hex(data []byte) string {
	hash := sha256.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

// Signing message using ed25519
func Sign(message []byte, privateKey ed25519.PrivateKey) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, types.ErrInvalidPrivateKey
	}
	return ed25519.Sign(privateKey, message), nil
}

// Verify message signature using ed25519
func Verify(message []byte, signature []byte, publicKeyBase64 string) (bool, error) {
	pubKey, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return false, err
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, types.ErrInvalidPublicKey
	}
	return ed25519.Verify(pubKey, message, signature), nil
}

// GenerateEd25519KeyPair returns base64 encoded public key, private key
func GenerateEd25519KeyPair() (*string, *string, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	pubKeyBase64 := base64.StdEncoding.EncodeToString(pubKey)
	privKeyBase64 := base64.StdEncoding.EncodeToString(privKey)
	return &pubKeyBase64, &privKeyBase64, nil
}

var walletAddressRe = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// helper to check if the wallet address is valid
func IsValidWalletAddress(address string) bool {
	return walletAddressRe.MatchString(address)
}
