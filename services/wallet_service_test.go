package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/payva/go-payva-auth/repository"
	"github.com/payva/go-payva-auth/types"
	"github.com/payva/go-payva-auth/util"
	"github.com/stretchr/testify/require"
	"github.com/tj/assert"
)

const testEmailSalt = "aabbccddeeff00112233445566778899"

// fakeCouch emulates just enough of CouchDB's document API for the
// repository layer: per-document revisions and 409 on conflicting writes,
// behind httpmock.
type fakeCouch struct {
	mu       sync.Mutex
	dbs      map[string]map[string]json.RawMessage
	revs     map[string]map[string]int
	raceOnce map[string]func(doc map[string]interface{}) // db/doc -> competing write applied before the next PUT
}

func newFakeCouch() *fakeCouch {
	return &fakeCouch{
		dbs:      map[string]map[string]json.RawMessage{},
		revs:     map[string]map[string]int{},
		raceOnce: map[string]func(doc map[string]interface{}){},
	}
}

// raceNextPut lands a competing write on the document just before the next
// PUT to it, so that PUT carries a stale revision and conflicts.
func (fc *fakeCouch) raceNextPut(db, docID string, mutate func(doc map[string]interface{})) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.raceOnce[db+"/"+docID] = mutate
}

func (fc *fakeCouch) register() {
	for _, method := range []string{"HEAD", "GET", "PUT", "DELETE"} {
		httpmock.RegisterResponder(method, `=~^http://localhost:5984/.*`, fc.handle)
	}
}

func (fc *fakeCouch) handle(req *http.Request) (*http.Response, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	path := strings.TrimPrefix(req.URL.Path, "/")
	parts := strings.SplitN(path, "/", 2)
	db := parts[0]
	if fc.dbs[db] == nil {
		fc.dbs[db] = map[string]json.RawMessage{}
		fc.revs[db] = map[string]int{}
	}
	if len(parts) == 1 {
		// database level: existence check or creation
		return httpmock.NewStringResponse(200, `{"ok":true}`), nil
	}
	docID := parts[1]

	switch req.Method {
	case "GET":
		if body, ok := fc.dbs[db][docID]; ok {
			return httpmock.NewStringResponse(200, string(body)), nil
		}
		return httpmock.NewStringResponse(404, `{"error":"not_found","reason":"missing"}`), nil
	case "PUT":
		var doc map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&doc); err != nil {
			return httpmock.NewStringResponse(400, `{"error":"bad_request"}`), nil
		}
		if mutate, ok := fc.raceOnce[db+"/"+docID]; ok {
			delete(fc.raceOnce, db+"/"+docID)
			var stored map[string]interface{}
			json.Unmarshal(fc.dbs[db][docID], &stored)
			mutate(stored)
			next := fc.revs[db][docID] + 1
			stored["_rev"] = fmt.Sprintf("%d-rev", next)
			raw, _ := json.Marshal(stored)
			fc.dbs[db][docID] = raw
			fc.revs[db][docID] = next
		}
		current := fc.revs[db][docID]
		incomingRev, _ := doc["_rev"].(string)
		if current > 0 && incomingRev != fmt.Sprintf("%d-rev", current) {
			return httpmock.NewStringResponse(409, `{"error":"conflict","reason":"Document update conflict."}`), nil
		}
		next := current + 1
		doc["_rev"] = fmt.Sprintf("%d-rev", next)
		stored, _ := json.Marshal(doc)
		fc.dbs[db][docID] = stored
		fc.revs[db][docID] = next
		return httpmock.NewStringResponse(201, fmt.Sprintf(`{"ok":true,"id":"%s","rev":"%d-rev"}`, docID, next)), nil
	case "DELETE":
		if _, ok := fc.dbs[db][docID]; !ok {
			return httpmock.NewStringResponse(404, `{"error":"not_found","reason":"missing"}`), nil
		}
		delete(fc.dbs[db], docID)
		delete(fc.revs[db], docID)
		return httpmock.NewStringResponse(200, `{"ok":true}`), nil
	}
	return httpmock.NewStringResponse(405, `{"error":"method_not_allowed"}`), nil
}

func (fc *fakeCouch) count(db string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.dbs[db])
}

func newTestWalletService(t *testing.T) (*WalletService, *fakeCouch) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	fc := newFakeCouch()
	fc.register()

	mkRepo := func(db string) repository.Repository {
		repo, err := repository.NewCouchDBRepository("http://localhost:5984", db, "admin", "pass", true)
		require.NoError(t, err)
		return repo
	}
	custodyKey, err := util.DeriveCustodyKey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	return &WalletService{
		walletRepo:   mkRepo(repository.Wallet),
		mappingRepo:  mkRepo(repository.WalletMapping),
		auditRepo:    mkRepo(repository.WalletAudit),
		recoveryRepo: mkRepo(repository.Recovery),
		custodyKey:   custodyKey,
		emailSalt:    testEmailSalt,
		locks:        map[string]*sync.Mutex{},
	}, fc
}

func testIdentity() *types.Identity {
	return &types.Identity{
		ID:            "provider-sub-12345",
		Email:         "someone@example.com",
		Name:          "Someone",
		EmailVerified: true,
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	ws, fc := newTestWalletService(t)
	ctx := context.Background()

	first, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.True(t, util.IsValidWalletAddress(first.Address))
	assert.NotEmpty(t, first.PrivateKeySealed)

	second, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)
	assert.Equal(t, first.WalletID, second.WalletID)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, first.PrivateKeySealed, second.PrivateKeySealed)
	assert.Equal(t, 1, fc.count(repository.Wallet))
}

func TestGetOrCreateConcurrent(t *testing.T) {
	ws, fc := newTestWalletService(t)
	ctx := context.Background()

	const n = 16
	wallets := make([]*types.Wallet, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wallets[i], errs[i] = ws.GetOrCreate(ctx, testIdentity())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < n; i++ {
		assert.Equal(t, wallets[0].WalletID, wallets[i].WalletID)
	}
	assert.Equal(t, 1, fc.count(repository.Wallet))
}

func TestGetOrCreateAfterDeactivation(t *testing.T) {
	ws, fc := newTestWalletService(t)
	ctx := context.Background()

	first, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)

	ok, err := ws.Deactivate(ctx, first.WalletID, first.IdentityID)
	require.NoError(t, err)
	assert.True(t, ok)

	// logging in again provisions fresh key material in the same document
	second, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)
	assert.True(t, second.Active)
	assert.NotEqual(t, first.WalletID, second.WalletID)
	assert.NotEqual(t, first.PrivateKeySealed, second.PrivateKeySealed)
	assert.Equal(t, 1, fc.count(repository.Wallet))

	byEmail, err := ws.GetByEmail(ctx, "someone@example.com")
	require.NoError(t, err)
	assert.Equal(t, second.WalletID, byEmail.WalletID)
}

func TestGetOrCreateReactivationRaceResolved(t *testing.T) {
	ws, fc := newTestWalletService(t)
	ctx := context.Background()
	identity := testIdentity()

	first, err := ws.GetOrCreate(ctx, identity)
	require.NoError(t, err)
	ok, err := ws.Deactivate(ctx, first.WalletID, first.IdentityID)
	require.NoError(t, err)
	assert.True(t, ok)

	// another process reactivates the document between this process's read
	// and its write; the conflict resolves to their record
	fc.raceNextPut(repository.Wallet, identity.ID, func(doc map[string]interface{}) {
		doc["active"] = true
		doc["walletId"] = "wallet-won"
	})

	winner, err := ws.GetOrCreate(ctx, identity)
	require.NoError(t, err)
	assert.True(t, winner.Active)
	assert.Equal(t, "wallet-won", winner.WalletID)
	assert.Equal(t, 1, fc.count(repository.Wallet))
}

func TestGetByEmailResolvesSameWallet(t *testing.T) {
	ws, _ := newTestWalletService(t)
	ctx := context.Background()

	created, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)

	byIdentity, err := ws.GetByIdentity(ctx, created.IdentityID)
	require.NoError(t, err)
	byEmail, err := ws.GetByEmail(ctx, created.Email)
	require.NoError(t, err)

	assert.Equal(t, byIdentity.WalletID, byEmail.WalletID)
	assert.Equal(t, byIdentity.Address, byEmail.Address)
}

func TestGetByEmailUnknown(t *testing.T) {
	ws, _ := newTestWalletService(t)
	_, err := ws.GetByEmail(context.Background(), "nobody@example.com")
	assert.Equal(t, types.ErrWalletNotFound, err)
}

func TestDeactivateRequiresOwnership(t *testing.T) {
	ws, _ := newTestWalletService(t)
	ctx := context.Background()

	wallet, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)

	_, err = ws.Deactivate(ctx, "not-their-wallet", wallet.IdentityID)
	assert.Equal(t, types.ErrUnauthorized, err)

	current, err := ws.GetByIdentity(ctx, wallet.IdentityID)
	require.NoError(t, err)
	assert.True(t, current.Active)
}

func TestGetWalletPrivateKeyOwnerOnly(t *testing.T) {
	ws, _ := newTestWalletService(t)
	ctx := context.Background()

	wallet, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)

	privKey, err := ws.GetWalletPrivateKey(ctx, wallet.WalletID, wallet.IdentityID)
	require.NoError(t, err)

	// the opened key must be the one whose public half is on the wallet
	sig, err := util.Sign([]byte("payload"), privKey)
	require.NoError(t, err)
	valid, err := util.Verify([]byte("payload"), sig, wallet.PublicKey)
	require.NoError(t, err)
	assert.True(t, valid)

	_, err = ws.GetWalletPrivateKey(ctx, wallet.WalletID, "someone-else")
	assert.Equal(t, types.ErrUnauthorized, err)

	_, err = ws.GetWalletPrivateKey(ctx, "wrong-wallet", wallet.IdentityID)
	assert.Equal(t, types.ErrUnauthorized, err)
}

func TestGetWalletPrivateKeyDeniedAfterDeactivation(t *testing.T) {
	ws, _ := newTestWalletService(t)
	ctx := context.Background()

	wallet, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)
	_, err = ws.Deactivate(ctx, wallet.WalletID, wallet.IdentityID)
	require.NoError(t, err)

	_, err = ws.GetWalletPrivateKey(ctx, wallet.WalletID, wallet.IdentityID)
	assert.Equal(t, types.ErrUnauthorized, err)
}

func TestBeginRecoveryUnknownEmailIsSilent(t *testing.T) {
	ws, fc := newTestWalletService(t)
	err := ws.BeginRecovery(context.Background(), "nobody@example.com")
	assert.NoError(t, err)
	assert.Equal(t, 0, fc.count(repository.Recovery))
}

func TestBeginRecoveryStoresDigestOnly(t *testing.T) {
	ws, fc := newTestWalletService(t)
	ctx := context.Background()

	_, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)
	require.NoError(t, ws.BeginRecovery(ctx, "someone@example.com"))

	assert.Equal(t, 1, fc.count(repository.Recovery))
	hashedEmail, err := util.HashEmail("someone@example.com", testEmailSalt)
	require.NoError(t, err)
	fc.mu.Lock()
	raw := fc.dbs[repository.Recovery][hashedEmail]
	fc.mu.Unlock()
	var stored types.RecoveryRequest
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Len(t, stored.CodeDigest, 64) // hex sha256, never the code itself
	assert.True(t, stored.Expires > stored.Created)
}

func TestCompleteRecovery(t *testing.T) {
	ws, _ := newTestWalletService(t)
	ctx := context.Background()

	wallet, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)

	code := "ABCD2345"
	saveRecoveryRequest(t, ws, "someone@example.com", code, time.Now().Add(recoveryCodeTTL))

	_, err = ws.CompleteRecovery(ctx, "someone@example.com", "WRONGCOD")
	assert.Equal(t, types.ErrRecoveryCodeInvalid, err)

	// the wrong attempt consumed the request
	saveRecoveryRequest(t, ws, "someone@example.com", code, time.Now().Add(recoveryCodeTTL))
	recovered, err := ws.CompleteRecovery(ctx, "someone@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, wallet.WalletID, recovered.WalletID)

	// single use
	_, err = ws.CompleteRecovery(ctx, "someone@example.com", code)
	assert.Equal(t, types.ErrRecoveryCodeInvalid, err)
}

func TestCompleteRecoveryExpired(t *testing.T) {
	ws, _ := newTestWalletService(t)
	ctx := context.Background()

	_, err := ws.GetOrCreate(ctx, testIdentity())
	require.NoError(t, err)

	saveRecoveryRequest(t, ws, "someone@example.com", "ABCD2345", time.Now().Add(-time.Minute))
	_, err = ws.CompleteRecovery(ctx, "someone@example.com", "ABCD2345")
	assert.Equal(t, types.ErrRecoveryCodeExpired, err)
}

func saveRecoveryRequest(t *testing.T, ws *WalletService, email, code string, expires time.Time) {
	t.Helper()
	hashedEmail, err := util.HashEmail(email, ws.emailSalt)
	require.NoError(t, err)
	request := &types.RecoveryRequest{
		HashedEmail: hashedEmail,
		CodeDigest:  util.Sha256Hex([]byte(code)),
		Created:     time.Now().UTC().UnixMilli(),
		Expires:     expires.UTC().UnixMilli(),
	}
	require.NoError(t, ws.recoveryRepo.Save(context.Background(), hashedEmail, request))
}
