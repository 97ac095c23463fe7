package services

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/metrics"
	"github.com/payva/go-payva-auth/types"
	"github.com/payva/go-payva-auth/util"
)

const (
	flowTimeout     = 5 * time.Minute
	flowMaxAttempts = 3
	flowRetention   = 30 * time.Minute
)

// failure causes surfaced on the flow status; typed errors from the
// collaborating services are translated here and nowhere else
const (
	CauseCancelled           = "cancelled"
	CauseTimedOut            = "timed out"
	CauseProviderRejected    = "provider rejected"
	CauseProviderUnavailable = "provider unavailable"
	CauseEmailNotVerified    = "email not verified"
	CauseWalletFailed        = "wallet provisioning failed"
	CauseSessionFailed       = "session issuance failed"
)

type identityExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*types.Identity, error)
}

type walletProvisioner interface {
	GetOrCreate(ctx context.Context, identity *types.Identity) (*types.Wallet, error)
}

type sessionIssuer interface {
	Issue(identity *types.Identity, wallet *types.Wallet) (string, error)
	Verify(token string) (*types.Session, error)
}

type stateStore interface {
	Create(flowID string) (*types.AuthState, error)
	Consume(state string) (*types.AuthState, error)
}

// flow is one in-flight login. The signal channel is buffered so the
// callback handler never blocks on the state machine; exactly one signal is
// consumed per attempt.
type flow struct {
	mu              sync.Mutex
	id              string
	state           types.FlowState
	cause           string
	attempt         int
	result          *types.FlowResult
	resultDelivered bool
	signal          chan types.ProviderSignal
	cancel          chan struct{}
	cancelled       bool
	updated         time.Time
}

func (f *flow) setState(state types.FlowState, cause string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == types.FlowComplete || f.state == types.FlowError {
		return
	}
	f.state = state
	f.cause = cause
	f.updated = time.Now().UTC()
	if state == types.FlowError {
		metrics.LoginFlowsFailed.WithLabelValues(cause).Inc()
	}
}

func (f *flow) terminal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == types.FlowComplete || f.state == types.FlowError
}

// AuthFlowService drives the login state machine: it hands out provider
// authorization URLs, receives exactly one provider signal per attempt and
// walks the flow through identity exchange, wallet provisioning and session
// issuance. It is the only place that knows the ordering.
type AuthFlowService struct {
	identities identityExchanger
	wallets    walletProvisioner
	tokens     sessionIssuer
	states     stateStore

	// timeout bounds one attempt; a flow with no provider signal inside it
	// fails with "timed out" at exactly this ceiling
	timeout time.Duration

	mu    sync.Mutex
	flows map[string]*flow
}

func NewAuthFlowService(identities identityExchanger, wallets walletProvisioner, tokens sessionIssuer, states stateStore) *AuthFlowService {
	return &AuthFlowService{
		identities: identities,
		wallets:    wallets,
		tokens:     tokens,
		states:     states,
		timeout:    flowTimeout,
		flows:      map[string]*flow{},
	}
}

// Begin registers a new flow and returns the provider authorization URL the
// client should open. The anti-forgery state value is persisted and single
// use; the callback must present it back.
func (s *AuthFlowService) Begin(ctx context.Context) (*types.OutputLoginStarted, error) {
	flowID := util.GenerateNonce(16)
	authState, err := s.states.Create(flowID)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to persist auth state", "error", err)
		return nil, types.ErrInternal
	}

	f := &flow{
		id:      flowID,
		state:   types.FlowAuthenticating,
		attempt: 1,
		signal:  make(chan types.ProviderSignal, 1),
		cancel:  make(chan struct{}),
		updated: time.Now().UTC(),
	}
	s.mu.Lock()
	s.flows[flowID] = f
	s.mu.Unlock()

	go s.run(f, f.signal, f.cancel)

	return &types.OutputLoginStarted{
		FlowID:  flowID,
		AuthURL: s.buildAuthURL(authState.State),
	}, nil
}

func (s *AuthFlowService) buildAuthURL(state string) string {
	google := global.Conf.Google
	q := url.Values{}
	q.Set("client_id", google.ClientID)
	q.Set("redirect_uri", google.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(google.Scopes, " "))
	q.Set("state", state)
	q.Set("prompt", "select_account")
	return google.AuthURL + "?" + q.Encode()
}

// Deliver routes a provider callback to its flow. The state value is
// consumed first, so a replayed callback can never reach a flow. Signals
// arriving after a terminal state are dropped.
func (s *AuthFlowService) Deliver(signal types.ProviderSignal) error {
	authState, err := s.states.Consume(signal.State)
	if err != nil {
		return types.ErrUnauthorized
	}
	s.mu.Lock()
	f, ok := s.flows[authState.FlowID]
	s.mu.Unlock()
	if !ok {
		return types.ErrFlowNotFound
	}
	f.mu.Lock()
	if f.state == types.FlowComplete || f.state == types.FlowError {
		f.mu.Unlock()
		level.Info(global.Logger).Log("msg", "dropping signal for terminal flow", "flowId", f.id)
		return nil
	}
	signalCh := f.signal
	f.mu.Unlock()

	select {
	case signalCh <- signal:
	default:
		// an earlier signal is already pending; this attempt takes one only
	}
	return nil
}

func (s *AuthFlowService) run(f *flow, signalCh chan types.ProviderSignal, cancelCh chan struct{}) {
	select {
	case signal := <-signalCh:
		s.process(f, signal)
	case <-cancelCh:
		f.setState(types.FlowError, CauseCancelled)
	case <-time.After(s.timeout):
		f.setState(types.FlowError, CauseTimedOut)
	}
}

func (s *AuthFlowService) process(f *flow, signal types.ProviderSignal) {
	if signal.Cancelled || signal.Err == "access_denied" {
		f.setState(types.FlowError, CauseCancelled)
		return
	}
	if signal.Err != "" {
		f.setState(types.FlowError, CauseProviderRejected)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// the success signal moves the flow to creating-wallet; it stays there
	// through identity exchange and custody provisioning
	f.setState(types.FlowCreatingWallet, "")
	identity, err := s.identities.ExchangeCode(ctx, signal.Code)
	if err != nil {
		f.setState(types.FlowError, exchangeCause(err))
		return
	}

	wallet, err := s.wallets.GetOrCreate(ctx, identity)
	if err != nil {
		level.Error(global.Logger).Log("msg", "wallet provisioning failed", "flowId", f.id, "error", err)
		f.setState(types.FlowError, CauseWalletFailed)
		return
	}

	f.setState(types.FlowVerifying, "")
	token, err := s.tokens.Issue(identity, wallet)
	if err != nil {
		level.Error(global.Logger).Log("msg", "token issuance failed", "flowId", f.id, "error", err)
		f.setState(types.FlowError, CauseSessionFailed)
		return
	}
	// a freshly issued token must validate before the flow completes
	if _, vErr := s.tokens.Verify(token); vErr != nil {
		level.Error(global.Logger).Log("msg", "issued token failed verification", "flowId", f.id, "error", vErr)
		f.setState(types.FlowError, CauseSessionFailed)
		return
	}

	f.mu.Lock()
	f.result = &types.FlowResult{
		Identity:      identity,
		WalletID:      wallet.WalletID,
		WalletAddress: wallet.Address,
		Token:         token,
	}
	f.state = types.FlowComplete
	f.cause = ""
	f.updated = time.Now().UTC()
	f.mu.Unlock()
	metrics.LoginFlowsCompleted.Inc()
}

func exchangeCause(err error) string {
	switch err {
	case types.ErrProviderRejected, types.ErrInvalidClient, types.ErrInvalidRequest:
		return CauseProviderRejected
	case types.ErrTransientProvider:
		return CauseProviderUnavailable
	case types.ErrEmailNotVerified:
		return CauseEmailNotVerified
	default:
		return CauseProviderRejected
	}
}

// Retry restarts a failed flow with a fresh state value. Attempts are
// bounded; a flow that keeps failing stays failed.
func (s *AuthFlowService) Retry(flowID string) (*types.OutputLoginStarted, error) {
	s.mu.Lock()
	f, ok := s.flows[flowID]
	s.mu.Unlock()
	if !ok {
		return nil, types.ErrFlowNotFound
	}

	f.mu.Lock()
	if f.state != types.FlowError {
		f.mu.Unlock()
		return nil, types.ErrFlowTerminal
	}
	if f.attempt >= flowMaxAttempts {
		f.mu.Unlock()
		return nil, types.ErrTooManyAttempts
	}
	f.attempt++
	f.state = types.FlowAuthenticating
	f.cause = ""
	f.signal = make(chan types.ProviderSignal, 1)
	f.cancel = make(chan struct{})
	f.cancelled = false
	f.updated = time.Now().UTC()
	signalCh, cancelCh := f.signal, f.cancel
	f.mu.Unlock()

	authState, err := s.states.Create(flowID)
	if err != nil {
		level.Error(global.Logger).Log("msg", "failed to persist auth state", "error", err)
		return nil, types.ErrInternal
	}
	go s.run(f, signalCh, cancelCh)

	return &types.OutputLoginStarted{
		FlowID:  flowID,
		AuthURL: s.buildAuthURL(authState.State),
	}, nil
}

// Status reports where a flow stands. On completion the result (including
// the session token) is handed out exactly once; later calls still see the
// complete state but no longer the credential.
func (s *AuthFlowService) Status(flowID string) (*types.OutputFlowStatus, error) {
	s.mu.Lock()
	f, ok := s.flows[flowID]
	s.mu.Unlock()
	if !ok {
		return nil, types.ErrFlowNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := &types.OutputFlowStatus{
		FlowID:  f.id,
		State:   f.state,
		Cause:   f.cause,
		Attempt: f.attempt,
	}
	if f.state == types.FlowComplete && !f.resultDelivered {
		out.Result = f.result
		f.resultDelivered = true
	}
	return out, nil
}

// Cancel aborts a running flow. Cancelling a terminal flow is a no-op.
func (s *AuthFlowService) Cancel(flowID string) error {
	s.mu.Lock()
	f, ok := s.flows[flowID]
	s.mu.Unlock()
	if !ok {
		return types.ErrFlowNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == types.FlowComplete || f.state == types.FlowError {
		return nil
	}
	if !f.cancelled {
		close(f.cancel)
		f.cancelled = true
	}
	return nil
}

// RemoveExpiredFlows drops flows nobody has touched for the retention
// window. Called from the cron sweep.
func (s *AuthFlowService) RemoveExpiredFlows() {
	cutoff := time.Now().UTC().Add(-flowRetention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.flows {
		f.mu.Lock()
		stale := f.updated.Before(cutoff)
		f.mu.Unlock()
		if stale {
			delete(s.flows, id)
		}
	}
}
