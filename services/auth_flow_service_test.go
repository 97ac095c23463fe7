package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/types"
	"github.com/payva/go-payva-auth/util"
	"github.com/stretchr/testify/require"
	"github.com/tj/assert"
)

type stubStateStore struct {
	mu     sync.Mutex
	states map[string]string // state -> flowID
}

func newStubStateStore() *stubStateStore {
	return &stubStateStore{states: map[string]string{}}
}

func (s *stubStateStore) Create(flowID string) (*types.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := util.GenerateNonce(32)
	s.states[state] = flowID
	return &types.AuthState{State: state, FlowID: flowID}, nil
}

func (s *stubStateStore) Consume(state string) (*types.AuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flowID, ok := s.states[state]
	if !ok {
		return nil, types.ErrNotFound
	}
	delete(s.states, state)
	return &types.AuthState{State: state, FlowID: flowID}, nil
}

type stubExchanger struct {
	err  error
	gate chan struct{} // when set, ExchangeCode blocks until the gate closes
}

func (s *stubExchanger) ExchangeCode(ctx context.Context, code string) (*types.Identity, error) {
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return &types.Identity{ID: "sub-" + code, Email: "user@example.com", Name: "User", EmailVerified: true}, nil
}

type stubProvisioner struct {
	err   error
	calls int
}

func (s *stubProvisioner) GetOrCreate(ctx context.Context, identity *types.Identity) (*types.Wallet, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.Wallet{
		WalletID:   "wallet-1",
		IdentityID: identity.ID,
		Email:      identity.Email,
		Address:    "0x" + strings.Repeat("ab", 20),
		Active:     true,
	}, nil
}

type stubIssuer struct {
	err       error
	verifyErr error
	gate      chan struct{} // when set, Issue blocks until the gate closes
}

func (s *stubIssuer) Issue(identity *types.Identity, wallet *types.Wallet) (string, error) {
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return "", s.err
	}
	return "token-for-" + identity.ID, nil
}

func (s *stubIssuer) Verify(token string) (*types.Session, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &types.Session{Email: "user@example.com"}, nil
}

func newTestFlowService(exchanger *stubExchanger, provisioner *stubProvisioner, issuer *stubIssuer) (*AuthFlowService, *stubStateStore) {
	global.Conf.Google.ClientID = "test-client"
	global.Conf.Google.RedirectURL = "http://localhost:8080/api/v1/auth/callback"
	global.Conf.Google.AuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
	global.Conf.Google.Scopes = []string{"openid", "email", "profile"}
	states := newStubStateStore()
	return NewAuthFlowService(exchanger, provisioner, issuer, states), states
}

// lastState pulls the single registered state value out of the stub store
func lastState(t *testing.T, states *stubStateStore, flowID string) string {
	t.Helper()
	states.mu.Lock()
	defer states.mu.Unlock()
	for state, id := range states.states {
		if id == flowID {
			return state
		}
	}
	t.Fatalf("no registered state for flow %s", flowID)
	return ""
}

func waitForState(t *testing.T, s *AuthFlowService, flowID string, want types.FlowState) *types.OutputFlowStatus {
	t.Helper()
	var last *types.OutputFlowStatus
	require.Eventually(t, func() bool {
		status, err := s.Status(flowID)
		if err != nil {
			return false
		}
		last = status
		return status.State == want
	}, 2*time.Second, 10*time.Millisecond)
	return last
}

func TestFlowCompletesOnProviderSuccess(t *testing.T) {
	s, states := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})

	started, err := s.Begin(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, started.FlowID)
	assert.Contains(t, started.AuthURL, "client_id=test-client")
	assert.Contains(t, started.AuthURL, "state=")

	state := lastState(t, states, started.FlowID)
	require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Code: "abc"}))

	status := waitForState(t, s, started.FlowID, types.FlowComplete)
	require.NotNil(t, status.Result)
	assert.Equal(t, "token-for-sub-abc", status.Result.Token)
	assert.Equal(t, "wallet-1", status.Result.WalletID)
	assert.True(t, util.IsValidWalletAddress(status.Result.WalletAddress))

	// the credential is handed out exactly once
	again, err := s.Status(started.FlowID)
	require.NoError(t, err)
	assert.Equal(t, types.FlowComplete, again.State)
	assert.Nil(t, again.Result)
}

func TestFlowStateOrderObservable(t *testing.T) {
	exchanger := &stubExchanger{gate: make(chan struct{})}
	issuer := &stubIssuer{gate: make(chan struct{})}
	s, states := newTestFlowService(exchanger, &stubProvisioner{}, issuer)

	started, err := s.Begin(context.Background())
	require.NoError(t, err)
	status, err := s.Status(started.FlowID)
	require.NoError(t, err)
	assert.Equal(t, types.FlowAuthenticating, status.State)

	state := lastState(t, states, started.FlowID)
	require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Code: "abc"}))

	// the success signal moves the flow to creating-wallet; it stays there
	// while the identity exchange and custody provisioning are in flight
	waitForState(t, s, started.FlowID, types.FlowCreatingWallet)
	close(exchanger.gate)

	// custody resolved; the flow verifies the credential before completing
	waitForState(t, s, started.FlowID, types.FlowVerifying)
	close(issuer.gate)

	status = waitForState(t, s, started.FlowID, types.FlowComplete)
	require.NotNil(t, status.Result)
}

func TestFlowFailsWhenIssuedTokenInvalid(t *testing.T) {
	issuer := &stubIssuer{verifyErr: types.ErrUnauthorized}
	s, states := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, issuer)

	started, err := s.Begin(context.Background())
	require.NoError(t, err)
	state := lastState(t, states, started.FlowID)
	require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Code: "abc"}))

	status := waitForState(t, s, started.FlowID, types.FlowError)
	assert.Equal(t, CauseSessionFailed, status.Cause)
}

func TestFlowTimesOutWithoutSignal(t *testing.T) {
	s, _ := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})
	s.timeout = 50 * time.Millisecond

	started, err := s.Begin(context.Background())
	require.NoError(t, err)

	status := waitForState(t, s, started.FlowID, types.FlowError)
	assert.Equal(t, CauseTimedOut, status.Cause)
}

func TestFlowStateValueIsSingleUse(t *testing.T) {
	s, states := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})

	started, err := s.Begin(context.Background())
	require.NoError(t, err)
	state := lastState(t, states, started.FlowID)

	require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Code: "abc"}))
	waitForState(t, s, started.FlowID, types.FlowComplete)

	// a replayed callback carries a consumed state value
	err = s.Deliver(types.ProviderSignal{State: state, Code: "abc"})
	assert.Equal(t, types.ErrUnauthorized, err)
}

func TestFlowUnknownStateRejected(t *testing.T) {
	s, _ := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})
	_, err := s.Begin(context.Background())
	require.NoError(t, err)

	err = s.Deliver(types.ProviderSignal{State: "forged", Code: "abc"})
	assert.Equal(t, types.ErrUnauthorized, err)
}

func TestFlowUserDeniesConsent(t *testing.T) {
	s, states := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})

	started, err := s.Begin(context.Background())
	require.NoError(t, err)
	state := lastState(t, states, started.FlowID)

	require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Err: "access_denied"}))
	status := waitForState(t, s, started.FlowID, types.FlowError)
	assert.Equal(t, CauseCancelled, status.Cause)
}

func TestFlowCancel(t *testing.T) {
	s, _ := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})

	started, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Cancel(started.FlowID))

	status := waitForState(t, s, started.FlowID, types.FlowError)
	assert.Equal(t, CauseCancelled, status.Cause)

	// cancelling again is a no-op
	assert.NoError(t, s.Cancel(started.FlowID))
}

func TestFlowProviderRejectionAndRetry(t *testing.T) {
	exchanger := &stubExchanger{err: types.ErrProviderRejected}
	s, states := newTestFlowService(exchanger, &stubProvisioner{}, &stubIssuer{})

	started, err := s.Begin(context.Background())
	require.NoError(t, err)

	state := lastState(t, states, started.FlowID)
	require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Code: "abc"}))
	status := waitForState(t, s, started.FlowID, types.FlowError)
	assert.Equal(t, CauseProviderRejected, status.Cause)
	assert.Equal(t, 1, status.Attempt)

	// second attempt succeeds
	exchanger.err = nil
	retried, err := s.Retry(started.FlowID)
	require.NoError(t, err)
	assert.Equal(t, started.FlowID, retried.FlowID)
	assert.NotEqual(t, started.AuthURL, retried.AuthURL)

	state = lastState(t, states, started.FlowID)
	require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Code: "xyz"}))
	status = waitForState(t, s, started.FlowID, types.FlowComplete)
	assert.Equal(t, 2, status.Attempt)
	require.NotNil(t, status.Result)
}

func TestFlowRetryBounded(t *testing.T) {
	exchanger := &stubExchanger{err: types.ErrTransientProvider}
	s, states := newTestFlowService(exchanger, &stubProvisioner{}, &stubIssuer{})

	started, err := s.Begin(context.Background())
	require.NoError(t, err)

	for attempt := 1; attempt <= flowMaxAttempts; attempt++ {
		state := lastState(t, states, started.FlowID)
		require.NoError(t, s.Deliver(types.ProviderSignal{State: state, Code: fmt.Sprintf("c%d", attempt)}))
		status := waitForState(t, s, started.FlowID, types.FlowError)
		assert.Equal(t, CauseProviderUnavailable, status.Cause)
		if attempt < flowMaxAttempts {
			_, rErr := s.Retry(started.FlowID)
			require.NoError(t, rErr)
		}
	}

	_, err = s.Retry(started.FlowID)
	assert.Equal(t, types.ErrTooManyAttempts, err)
}

func TestFlowRetryOnlyFromError(t *testing.T) {
	s, _ := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})
	started, err := s.Begin(context.Background())
	require.NoError(t, err)

	_, err = s.Retry(started.FlowID)
	assert.Equal(t, types.ErrFlowTerminal, err)
}

func TestFlowStatusUnknown(t *testing.T) {
	s, _ := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})
	_, err := s.Status("nope")
	assert.Equal(t, types.ErrFlowNotFound, err)
}

func TestFlowSweepDropsStaleFlows(t *testing.T) {
	s, _ := newTestFlowService(&stubExchanger{}, &stubProvisioner{}, &stubIssuer{})
	started, err := s.Begin(context.Background())
	require.NoError(t, err)

	s.mu.Lock()
	s.flows[started.FlowID].updated = time.Now().UTC().Add(-time.Hour)
	s.mu.Unlock()

	s.RemoveExpiredFlows()
	_, err = s.Status(started.FlowID)
	assert.Equal(t, types.ErrFlowNotFound, err)
}
