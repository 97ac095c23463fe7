package services

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/payva/go-payva-auth/types"
	"github.com/stretchr/testify/require"
	"github.com/tj/assert"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	ts, err := NewTokenServiceWithKey(priv, 7)
	require.NoError(t, err)
	return ts
}

func testWallet() *types.Wallet {
	return &types.Wallet{
		WalletID:   "wallet-1",
		IdentityID: "sub-1",
		Email:      "user@example.com",
		Address:    "0x" + strings.Repeat("ab", 20),
		Active:     true,
	}
}

func TestTokenRoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	identity := &types.Identity{ID: "sub-1", Email: "user@example.com", Name: "User", EmailVerified: true}

	token, err := ts.Issue(identity, testWallet())
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	session, err := ts.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", session.IdentityID)
	assert.Equal(t, "user@example.com", session.Email)
	assert.Equal(t, "wallet-1", session.WalletID)
	assert.Equal(t, testWallet().Address, session.WalletAddress)
	assert.Equal(t, session.IssuedAt+7*24*3600, session.ExpiresAt)
}

func TestTokenRejectsInactiveWallet(t *testing.T) {
	ts := newTestTokenService(t)
	wallet := testWallet()
	wallet.Active = false
	_, err := ts.Issue(&types.Identity{ID: "sub-1", Email: "user@example.com"}, wallet)
	assert.Equal(t, types.ErrWalletDeactivated, err)
}

func TestTokenExpiryBoundary(t *testing.T) {
	ts := newTestTokenService(t)
	identity := &types.Identity{ID: "sub-1", Email: "user@example.com"}

	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return issuedAt }
	token, err := ts.Issue(identity, testWallet())
	require.NoError(t, err)

	expiry := issuedAt.Add(7 * 24 * time.Hour)

	ts.now = func() time.Time { return expiry.Add(-time.Second) }
	_, err = ts.Verify(token)
	assert.NoError(t, err)

	ts.now = func() time.Time { return expiry }
	_, err = ts.Verify(token)
	assert.Equal(t, types.ErrUnauthorized, err)

	ts.now = func() time.Time { return expiry.Add(time.Second) }
	_, err = ts.Verify(token)
	assert.Equal(t, types.ErrUnauthorized, err)
}

func TestTokenWrongKeyRejected(t *testing.T) {
	ts := newTestTokenService(t)
	other := newTestTokenService(t)

	token, err := ts.Issue(&types.Identity{ID: "sub-1", Email: "user@example.com"}, testWallet())
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Equal(t, types.ErrUnauthorized, err)
}

func TestTokenTamperedRejected(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.Issue(&types.Identity{ID: "sub-1", Email: "user@example.com"}, testWallet())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"
	_, err = ts.Verify(strings.Join(parts, "."))
	assert.Equal(t, types.ErrUnauthorized, err)

	_, err = ts.Verify("not-a-token")
	assert.Equal(t, types.ErrUnauthorized, err)
}

func TestTokenServiceRejectsWeakKey(t *testing.T) {
	_, err := NewTokenServiceWithKey([]byte("short"), 7)
	assert.Equal(t, ErrSigningKeyMisconfigured, err)
}

func TestPublicJWKS(t *testing.T) {
	ts := newTestTokenService(t)
	set, err := ts.PublicJWKS()
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	key, ok := set.Key(0)
	require.True(t, ok)
	assert.Equal(t, "OKP", key.KeyType().String())
	assert.Equal(t, "sig", key.KeyUsage())
}
