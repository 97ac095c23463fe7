package services

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/repository"
	"github.com/payva/go-payva-auth/types"
	"github.com/payva/go-payva-auth/util"
)

const (
	stateNonceBytes = 32
	// states older than this are swept and no longer honored on callback
	stateMaxAgeMinutes = 10
)

// AuthStateService persists the anti-forgery state values handed to the
// identity provider. A callback is only trusted when its state resolves to a
// stored, unconsumed record.
type AuthStateService struct {
	stateRepo repository.Repository
}

func NewAuthStateService(dbSelector repository.DBSelector) *AuthStateService {
	stateRepo, err := dbSelector.ChooseDB(repository.AuthState)
	if err != nil {
		level.Error(global.Logger).Log("msg", "error while choosing db", "err", err)
		panic(err)
	}
	return &AuthStateService{stateRepo: stateRepo}
}

// Create stores a fresh state nonce bound to a flow id.
func (as *AuthStateService) Create(flowID string) (*types.AuthState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	state := &types.AuthState{
		State:   util.GenerateNonce(stateNonceBytes),
		FlowID:  flowID,
		Created: time.Now().UTC().UnixMilli(),
	}
	if err := as.stateRepo.Save(ctx, state.State, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Consume looks a state up and deletes it, so each state is honored at most
// once. Expired states are treated as missing.
func (as *AuthStateService) Consume(state string) (*types.AuthState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	response, err := as.stateRepo.GetByID(ctx, state)
	if err != nil {
		return nil, err
	}
	var existing types.AuthState
	if mErr := repository.MapToObject(response, &existing); mErr != nil {
		return nil, mErr
	}

	// delete regardless of validity; a state is single-use
	if dErr := as.stateRepo.Delete(ctx, state); dErr != nil {
		level.Error(global.Logger).Log("msg", "failed to delete auth state", "error", dErr)
	}

	cutoff := time.Now().UTC().UnixMilli() - stateMaxAgeMinutes*60*1000
	if existing.Created < cutoff {
		return nil, types.ErrNotFound
	}
	return &existing, nil
}

// RemoveExpiredStates sweeps states older than the honor window.
func (as *AuthStateService) RemoveExpiredStates() {
	cutoff := time.Now().UTC().UnixMilli() - stateMaxAgeMinutes*60*1000
	sweepExpired(as.stateRepo, "authstate", "old", cutoff)
}
