package services

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/payva/go-payva-auth/metrics"
	"github.com/payva/go-payva-auth/types"
	"github.com/payva/go-payva-auth/util"
)

const (
	tokenIssuer            = "payva-auth"
	defaultTokenExpiryDays = 7
)

// ErrSigningKeyMisconfigured means the session signing key is absent or too
// weak. Callers treat it as fatal at process start.
var ErrSigningKeyMisconfigured = errors.New("session signing key missing or too weak")

// TokenService owns the session signing key and is the only issuer and
// verifier of session tokens. Tokens are stateless: verification never
// touches storage.
type TokenService struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiry     time.Duration
	now        func() time.Time
}

// NewTokenService loads the signing key from the keys JSON file generated by
// the keys CLI subcommand. The key is read once and never mutated.
func NewTokenService(serverKeysPath string, expiryDays int) (*TokenService, error) {
	keyBytes, err := os.ReadFile(serverKeysPath)
	if err != nil {
		return nil, ErrSigningKeyMisconfigured
	}
	var serverKeys types.ServerKeys
	if err := json.Unmarshal(keyBytes, &serverKeys); err != nil {
		return nil, ErrSigningKeyMisconfigured
	}
	privBytes, err := base64.StdEncoding.DecodeString(serverKeys.PrivateKey)
	if err != nil {
		return nil, ErrSigningKeyMisconfigured
	}
	return NewTokenServiceWithKey(privBytes, expiryDays)
}

// NewTokenServiceWithKey builds the service from raw key material. Anything
// shorter than a full ed25519 private key (32-byte seed + 32-byte public
// half) is rejected.
func NewTokenServiceWithKey(privateKey []byte, expiryDays int) (*TokenService, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, ErrSigningKeyMisconfigured
	}
	if expiryDays <= 0 {
		expiryDays = defaultTokenExpiryDays
	}
	priv := ed25519.PrivateKey(privateKey)
	return &TokenService{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
		expiry:     time.Duration(expiryDays) * 24 * time.Hour,
		now:        time.Now,
	}, nil
}

type sessionClaims struct {
	Issuer        string `json:"iss"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	WalletID      string `json:"walletId,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	IssuedAt      int64  `json:"iat"`
	Expiry        int64  `json:"exp"`
	TokenID       string `json:"jti"`
}

// Issue signs a session token binding the identity to its wallet. Expiry is
// fixed at creation; re-signing is not a renewal path, a new login is.
func (ts *TokenService) Issue(identity *types.Identity, wallet *types.Wallet) (string, error) {
	if identity == nil || wallet == nil {
		return "", types.ErrBadRequest
	}
	if !wallet.Active {
		return "", types.ErrWalletDeactivated
	}
	now := ts.now().UTC()
	claims := sessionClaims{
		Issuer:        tokenIssuer,
		Subject:       identity.ID,
		Email:         identity.Email,
		Name:          identity.Name,
		WalletID:      wallet.WalletID,
		WalletAddress: wallet.Address,
		IssuedAt:      now.Unix(),
		Expiry:        now.Add(ts.expiry).Unix(),
		TokenID:       util.GenerateNonce(16),
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: ts.privateKey}, nil)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	object, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	serialized, err := object.CompactSerialize()
	if err != nil {
		return "", err
	}
	metrics.SessionTokensIssued.Inc()
	return serialized, nil
}

// Verify checks signature and expiry. Every failure collapses to
// types.ErrUnauthorized so callers cannot distinguish why a token was bad.
func (ts *TokenService) Verify(token string) (*types.Session, error) {
	object, err := jose.ParseSigned(token)
	if err != nil {
		return nil, types.ErrUnauthorized
	}
	payload, err := object.Verify(ts.publicKey)
	if err != nil {
		return nil, types.ErrUnauthorized
	}
	var claims sessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, types.ErrUnauthorized
	}
	if claims.Issuer != tokenIssuer || claims.Subject == "" {
		return nil, types.ErrUnauthorized
	}
	if claims.Expiry <= ts.now().UTC().Unix() {
		return nil, types.ErrUnauthorized
	}
	return &types.Session{
		IdentityID:    claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		WalletID:      claims.WalletID,
		WalletAddress: claims.WalletAddress,
		IssuedAt:      claims.IssuedAt,
		ExpiresAt:     claims.Expiry,
	}, nil
}

// PublicJWKS exposes the verification key as a JWK set so downstream
// services can verify tokens without calling back.
func (ts *TokenService) PublicJWKS() (jwk.Set, error) {
	key, err := jwk.FromRaw(ts.publicKey)
	if err != nil {
		return nil, err
	}
	if err := jwk.AssignKeyID(key); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return set, nil
}
