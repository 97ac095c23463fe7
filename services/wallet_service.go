package services

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/metrics"
	"github.com/payva/go-payva-auth/repository"
	"github.com/payva/go-payva-auth/types"
	"github.com/payva/go-payva-auth/util"
)

const recoveryCodeTTL = 15 * time.Minute

// WalletService is the key custody store. It exclusively owns wallet records
// and every encryption/decryption of private key material; nothing else in
// the process may touch sealed keys.
type WalletService struct {
	walletRepo   repository.Repository
	mappingRepo  repository.Repository
	auditRepo    repository.Repository
	recoveryRepo repository.Repository
	custodyKey   []byte
	emailSalt    string
	env          *types.Environment

	// per-identity mutual exclusion for provisioning and mutation
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewWalletService(dbSelector repository.DBSelector, custodyKey []byte, env *types.Environment) *WalletService {
	walletRepo, err := dbSelector.ChooseDB(repository.Wallet)
	if err != nil {
		level.Error(global.Logger).Log("msg", "error while choosing db", "err", err)
		panic(err)
	}
	mappingRepo, err := dbSelector.ChooseDB(repository.WalletMapping)
	if err != nil {
		level.Error(global.Logger).Log("msg", "error while choosing db", "err", err)
		panic(err)
	}
	auditRepo, err := dbSelector.ChooseDB(repository.WalletAudit)
	if err != nil {
		level.Error(global.Logger).Log("msg", "error while choosing db", "err", err)
		panic(err)
	}
	recoveryRepo, err := dbSelector.ChooseDB(repository.Recovery)
	if err != nil {
		level.Error(global.Logger).Log("msg", "error while choosing db", "err", err)
		panic(err)
	}
	if len(custodyKey) != util.CustodyKeySize {
		panic("custody key has wrong size")
	}
	return &WalletService{
		walletRepo:   walletRepo,
		mappingRepo:  mappingRepo,
		auditRepo:    auditRepo,
		recoveryRepo: recoveryRepo,
		custodyKey:   custodyKey,
		emailSalt:    global.Conf.Custody.EmailSaltHex,
		env:          env,
		locks:        map[string]*sync.Mutex{},
	}
}

// identityLock returns the mutex guarding all mutation for one identity.
func (ws *WalletService) identityLock(identityID string) *sync.Mutex {
	ws.locksMu.Lock()
	defer ws.locksMu.Unlock()
	if l, ok := ws.locks[identityID]; ok {
		return l
	}
	l := &sync.Mutex{}
	ws.locks[identityID] = l
	return l
}

// GetOrCreate returns the identity's active wallet, creating it atomically
// when absent. Concurrent calls for the same identity converge on the same
// record: the per-identity lock serializes in-process callers and the
// insert-if-absent Save (doc keyed by identity id) resolves races across
// processes, with the loser re-reading the winner's document.
func (ws *WalletService) GetOrCreate(ctx context.Context, identity *types.Identity) (*types.Wallet, error) {
	if identity == nil || identity.ID == "" {
		return nil, types.ErrBadRequest
	}
	lock := ws.identityLock(identity.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := ws.getByIdentityID(ctx, identity.ID)
	if err != nil && err != types.ErrNotFound {
		return nil, err
	}
	if existing != nil && existing.Active {
		return existing, nil
	}

	wallet, err := ws.newWallet(identity)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		// previous wallet was deactivated; replace key material in place and
		// keep the document id so both lookup paths stay intact
		wallet.BaseDocument = existing.BaseDocument
		if uErr := ws.walletRepo.Update(ctx, identity.ID, wallet); uErr != nil {
			if uErr != types.ErrConflict {
				return nil, uErr
			}
			// another writer reactivated the wallet first; their record wins
			return ws.getByIdentityID(ctx, identity.ID)
		}
	} else {
		if sErr := ws.walletRepo.Save(ctx, identity.ID, wallet); sErr != nil {
			if sErr != types.ErrConflict {
				return nil, sErr
			}
			// lost the race to another writer; their record wins
			return ws.getByIdentityID(ctx, identity.ID)
		}
	}

	if mErr := ws.saveMapping(ctx, identity, wallet); mErr != nil {
		level.Error(global.Logger).Log("msg", "failed to save wallet mapping", "error", mErr)
		return nil, mErr
	}
	ws.audit(ctx, wallet.WalletID, identity.ID, types.AuditEventCreated, types.AuditOutcomeOK)
	metrics.WalletsCreated.Inc()
	return wallet, nil
}

func (ws *WalletService) newWallet(identity *types.Identity) (*types.Wallet, error) {
	pubB64, privB64, err := util.GenerateEd25519KeyPair()
	if err != nil {
		return nil, err
	}
	pubKey, _ := base64.StdEncoding.DecodeString(*pubB64)
	privKey, _ := base64.StdEncoding.DecodeString(*privB64)

	address, err := util.PublicKeyToWalletAddress(pubKey)
	if err != nil {
		return nil, err
	}
	walletID := uuid.NewString()
	sealed, err := util.SealPrivateKey(ws.custodyKey, ed25519.PrivateKey(privKey), identity.ID, walletID)
	if err != nil {
		return nil, err
	}
	return &types.Wallet{
		WalletID:         walletID,
		IdentityID:       identity.ID,
		Email:            identity.Email,
		Address:          address,
		PublicKey:        *pubB64,
		PrivateKeySealed: sealed,
		RecoveryEmail:    identity.Email,
		Active:           true,
		Created:          time.Now().UTC().UnixMilli(),
	}, nil
}

func (ws *WalletService) saveMapping(ctx context.Context, identity *types.Identity, wallet *types.Wallet) error {
	hashedEmail, hErr := util.HashEmail(identity.Email, ws.emailSalt)
	if hErr != nil {
		return hErr
	}
	mapping := &types.EmailToWalletMapping{
		HashedEmail: hashedEmail,
		IdentityID:  identity.ID,
		WalletID:    wallet.WalletID,
	}
	// carry the revision forward when the mapping already exists
	existingResponse, eErr := ws.mappingRepo.GetByID(ctx, hashedEmail)
	if eErr != nil && eErr != types.ErrNotFound {
		return eErr
	}
	if existingResponse != nil {
		var existing types.EmailToWalletMapping
		if mErr := repository.MapToObject(existingResponse, &existing); mErr != nil {
			return mErr
		}
		mapping.BaseDocument = existing.BaseDocument
	}
	return ws.mappingRepo.Save(ctx, hashedEmail, mapping)
}

func (ws *WalletService) getByIdentityID(ctx context.Context, identityID string) (*types.Wallet, error) {
	response, err := ws.walletRepo.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	var wallet types.Wallet
	if mErr := repository.MapToObject(response, &wallet); mErr != nil {
		return nil, mErr
	}
	return &wallet, nil
}

// GetByIdentity returns the wallet bound to an identity or ErrWalletNotFound.
func (ws *WalletService) GetByIdentity(ctx context.Context, identityID string) (*types.Wallet, error) {
	wallet, err := ws.getByIdentityID(ctx, identityID)
	if err != nil {
		if err == types.ErrNotFound {
			return nil, types.ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// GetByEmail resolves the hashed-email mapping and then the wallet record.
// Both paths land on the same document.
func (ws *WalletService) GetByEmail(ctx context.Context, email string) (*types.Wallet, error) {
	hashedEmail, hErr := util.HashEmail(email, ws.emailSalt)
	if hErr != nil {
		return nil, hErr
	}
	response, err := ws.mappingRepo.GetByID(ctx, hashedEmail)
	if err != nil {
		if err == types.ErrNotFound {
			return nil, types.ErrWalletNotFound
		}
		return nil, err
	}
	var mapping types.EmailToWalletMapping
	if mErr := repository.MapToObject(response, &mapping); mErr != nil {
		return nil, mErr
	}
	return ws.GetByIdentity(ctx, mapping.IdentityID)
}

// Deactivate logically deletes a wallet. Only the owning identity may do it;
// the record survives for the audit trail and recovery history.
func (ws *WalletService) Deactivate(ctx context.Context, walletID, identityID string) (bool, error) {
	lock := ws.identityLock(identityID)
	lock.Lock()
	defer lock.Unlock()

	wallet, err := ws.getByIdentityID(ctx, identityID)
	if err != nil {
		if err == types.ErrNotFound {
			return false, types.ErrWalletNotFound
		}
		return false, err
	}
	if wallet.WalletID != walletID {
		ws.audit(ctx, walletID, identityID, types.AuditEventDeactivated, types.AuditOutcomeDenied)
		return false, types.ErrUnauthorized
	}
	if !wallet.Active {
		return false, nil
	}
	wallet.Active = false
	wallet.Deactivated = time.Now().UTC().UnixMilli()
	if uErr := ws.walletRepo.Update(ctx, identityID, wallet); uErr != nil {
		return false, uErr
	}
	ws.audit(ctx, walletID, identityID, types.AuditEventDeactivated, types.AuditOutcomeOK)
	return true, nil
}

// GetWalletPrivateKey opens the sealed key for server-side signing. The
// caller must present the exact identity/wallet pair that owns the key;
// every attempt lands in the audit trail, denied or not. The plaintext key
// must never travel past the caller's stack.
func (ws *WalletService) GetWalletPrivateKey(ctx context.Context, walletID, identityID string) (ed25519.PrivateKey, error) {
	wallet, err := ws.getByIdentityID(ctx, identityID)
	if err != nil {
		ws.audit(ctx, walletID, identityID, types.AuditEventKeyAccess, types.AuditOutcomeDenied)
		return nil, types.ErrUnauthorized
	}
	if wallet.WalletID != walletID || !wallet.Active {
		ws.audit(ctx, walletID, identityID, types.AuditEventKeyAccess, types.AuditOutcomeDenied)
		return nil, types.ErrUnauthorized
	}
	privKey, oErr := util.OpenPrivateKey(ws.custodyKey, wallet.PrivateKeySealed, identityID, walletID)
	if oErr != nil {
		ws.audit(ctx, walletID, identityID, types.AuditEventKeyAccess, types.AuditOutcomeDenied)
		return nil, types.ErrUnauthorized
	}

	wallet.LastAccessed = time.Now().UTC().UnixMilli()
	if uErr := ws.walletRepo.Update(ctx, identityID, wallet); uErr != nil {
		level.Error(global.Logger).Log("msg", "failed to update wallet access time", "error", uErr)
	}
	ws.audit(ctx, walletID, identityID, types.AuditEventKeyAccess, types.AuditOutcomeOK)
	return privKey, nil
}

// BeginRecovery stores the digest of a one-time code and queues its delivery.
// The response is identical whether or not a wallet exists for the email, so
// the endpoint can't be used to enumerate accounts.
func (ws *WalletService) BeginRecovery(ctx context.Context, email string) error {
	wallet, err := ws.GetByEmail(ctx, email)
	if err != nil {
		if err == types.ErrWalletNotFound {
			return nil // uniform response; nothing to recover
		}
		return err
	}

	hashedEmail, hErr := util.HashEmail(email, ws.emailSalt)
	if hErr != nil {
		return hErr
	}
	code := util.GenerateRecoveryCode(8)
	now := time.Now().UTC()
	request := &types.RecoveryRequest{
		HashedEmail: hashedEmail,
		CodeDigest:  util.Sha256Hex([]byte(code)),
		Created:     now.UnixMilli(),
		Expires:     now.Add(recoveryCodeTTL).UnixMilli(),
	}
	// replace any pending request for the same email
	existingResponse, eErr := ws.recoveryRepo.GetByID(ctx, hashedEmail)
	if eErr != nil && eErr != types.ErrNotFound {
		return eErr
	}
	if existingResponse != nil {
		var existing types.RecoveryRequest
		if mErr := repository.MapToObject(existingResponse, &existing); mErr == nil {
			request.BaseDocument = existing.BaseDocument
		}
	}
	if sErr := ws.recoveryRepo.Save(ctx, hashedEmail, request); sErr != nil {
		return sErr
	}
	ws.audit(ctx, wallet.WalletID, wallet.IdentityID, types.AuditEventRecoveryBegin, types.AuditOutcomeOK)
	metrics.RecoveryCodesRequested.Inc()

	if ws.env != nil && ws.env.TaskClient != nil {
		payload, _ := json.Marshal(types.RecoveryEmailTask{Email: email, Code: code})
		task := asynq.NewTask(types.QueueTypeRecoveryEmail, payload)
		if _, qErr := ws.env.TaskClient.EnqueueContext(ctx, task); qErr != nil {
			level.Error(global.Logger).Log("msg", "failed to enqueue recovery email", "error", qErr)
			return qErr
		}
	}
	return nil
}

// CompleteRecovery consumes the one-time code and returns the wallet it
// unlocks. Wrong or missing codes are indistinguishable from unknown emails.
func (ws *WalletService) CompleteRecovery(ctx context.Context, email, code string) (*types.Wallet, error) {
	hashedEmail, hErr := util.HashEmail(email, ws.emailSalt)
	if hErr != nil {
		return nil, hErr
	}
	response, err := ws.recoveryRepo.GetByID(ctx, hashedEmail)
	if err != nil {
		return nil, types.ErrRecoveryCodeInvalid
	}
	var request types.RecoveryRequest
	if mErr := repository.MapToObject(response, &request); mErr != nil {
		return nil, types.ErrRecoveryCodeInvalid
	}

	// consumed at most once, valid or not
	if dErr := ws.recoveryRepo.Delete(ctx, hashedEmail); dErr != nil {
		level.Error(global.Logger).Log("msg", "failed to delete recovery request", "error", dErr)
	}

	if request.Expires < time.Now().UTC().UnixMilli() {
		return nil, types.ErrRecoveryCodeExpired
	}
	if request.CodeDigest != util.Sha256Hex([]byte(code)) {
		return nil, types.ErrRecoveryCodeInvalid
	}

	wallet, wErr := ws.GetByEmail(ctx, email)
	if wErr != nil {
		return nil, types.ErrRecoveryCodeInvalid
	}
	ws.audit(ctx, wallet.WalletID, wallet.IdentityID, types.AuditEventRecoveryComplete, types.AuditOutcomeOK)
	return wallet, nil
}

// RemoveExpiredRecoveries sweeps recovery requests past their TTL.
func (ws *WalletService) RemoveExpiredRecoveries() {
	cutoff := time.Now().UTC().UnixMilli() - recoveryCodeTTL.Milliseconds()
	sweepExpired(ws.recoveryRepo, "recovery", "old", cutoff)
}

// audit appends one record to the append-only trail. Audit failures are
// logged, never propagated; the business operation already happened.
func (ws *WalletService) audit(ctx context.Context, walletID, identityID, event, outcome string) {
	record := &types.WalletAudit{
		WalletID:   walletID,
		IdentityID: identityID,
		Event:      event,
		Outcome:    outcome,
		Created:    time.Now().UTC().UnixMilli(),
	}
	if err := ws.auditRepo.Save(ctx, uuid.NewString(), record); err != nil {
		level.Error(global.Logger).Log("msg", "failed to write audit record", "event", event, "error", err)
	}
}
