package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/payva/go-payva-auth/api/interceptors"
	"github.com/payva/go-payva-auth/metrics"
	"github.com/payva/go-payva-auth/services"
	"github.com/payva/go-payva-auth/types"
)

type AuthApi struct {
	flowService  *services.AuthFlowService
	tokenService *services.TokenService
	validate     *validator.Validate
}

func NewAuthApi(flowService *services.AuthFlowService, tokenService *services.TokenService) *AuthApi {
	return &AuthApi{
		flowService:  flowService,
		tokenService: tokenService,
		validate:     validator.New(),
	}
}

// Start a login flow
// @Summary Start a login flow
// @Description Registers a new login flow and returns the provider authorization URL to open
// @Tags Authentication
// @Success 200 {object} types.OutputLoginStarted
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Failure 500 {object} api.ApiError "Internal server error"
// @Accept json
// @Produce json
// @Router /api/v1/auth/login [post]
func (aa *AuthApi) Login(c *gin.Context) {
	started, err := aa.flowService.Begin(c.Request.Context())
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to start login flow")
		return
	}
	metrics.LoginFlowsStarted.Inc()
	c.JSON(http.StatusOK, started)
}

// Provider callback
// @Summary Identity provider redirect target
// @Description Receives the authorization code (or error) from the provider and signals the owning flow
// @Tags Authentication
// @Param code query string false "authorization code"
// @Param state query string true "anti-forgery state value"
// @Param error query string false "provider error code"
// @Success 200 {string} string "html response closing the window"
// @Failure 401 {object} api.ApiError "unknown or reused state value"
// @Produce html
// @Router /api/v1/auth/callback [get]
func (aa *AuthApi) Callback(c *gin.Context) {
	var input types.InputAuthCallback
	if err := c.ShouldBindQuery(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid callback parameters")
		return
	}
	if vErr := aa.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "%s", ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	signal := types.ProviderSignal{
		State:     input.State,
		Code:      input.Code,
		Err:       input.Error,
		Cancelled: input.Error == "access_denied",
	}
	if err := aa.flowService.Deliver(signal); err != nil {
		ApiErrorf(c, http.StatusUnauthorized, "unknown or expired login attempt")
		return
	}
	// the window was opened by the client just for this redirect; tell the
	// user it can go away, the client polls the flow status
	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte("<html><body>Login received. You can close this window.</body></html>"))
}

// Flow status
// @Summary Poll a login flow
// @Description Returns the flow state; on completion the result is included exactly once
// @Tags Authentication
// @Param id path string true "flow id"
// @Success 200 {object} types.OutputFlowStatus
// @Failure 404 {object} api.ApiError "flow not found"
// @Produce json
// @Router /api/v1/auth/flow/{id} [get]
func (aa *AuthApi) FlowStatus(c *gin.Context) {
	flowID := c.Param("id")
	if flowID == "" {
		ApiErrorf(c, http.StatusBadRequest, "flow id is required")
		return
	}
	status, err := aa.flowService.Status(flowID)
	if err != nil {
		ApiErrorf(c, http.StatusNotFound, "flow not found")
		return
	}
	c.JSON(http.StatusOK, status)
}

// Retry a failed flow
// @Summary Retry a failed login flow
// @Description Restarts a failed flow with a fresh authorization URL; attempts are bounded
// @Tags Authentication
// @Param id path string true "flow id"
// @Success 200 {object} types.OutputLoginStarted
// @Failure 404 {object} api.ApiError "flow not found"
// @Failure 409 {object} api.ApiError "flow not retryable"
// @Failure 429 {object} api.ApiError "attempts exhausted"
// @Produce json
// @Router /api/v1/auth/flow/{id}/retry [post]
func (aa *AuthApi) RetryFlow(c *gin.Context) {
	flowID := c.Param("id")
	started, err := aa.flowService.Retry(flowID)
	if err != nil {
		switch err {
		case types.ErrFlowNotFound:
			ApiErrorf(c, http.StatusNotFound, "flow not found")
		case types.ErrTooManyAttempts:
			ApiErrorf(c, http.StatusTooManyRequests, "login attempts exhausted")
		case types.ErrFlowTerminal:
			ApiErrorf(c, http.StatusConflict, "flow is not in a retryable state")
		default:
			ApiErrorf(c, http.StatusInternalServerError, "failed to retry flow")
		}
		return
	}
	c.JSON(http.StatusOK, started)
}

// Cancel a flow
// @Summary Cancel a running login flow
// @Description Aborts a flow; cancelling a finished flow is a no-op
// @Tags Authentication
// @Param id path string true "flow id"
// @Success 200 {object} types.OK
// @Failure 404 {object} api.ApiError "flow not found"
// @Produce json
// @Router /api/v1/auth/flow/{id} [delete]
func (aa *AuthApi) CancelFlow(c *gin.Context) {
	flowID := c.Param("id")
	if err := aa.flowService.Cancel(flowID); err != nil {
		ApiErrorf(c, http.StatusNotFound, "flow not found")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}

// Current session
// @Summary Describe the current session
// @Description Returns the identity and wallet bound into the presented session token
// @Tags Authentication
// @Success 200 {object} types.OutputSessionInfo
// @Failure 401 {object} api.ApiError "invalid or expired session token"
// @Produce json
// @Router /api/v1/session [get]
func (aa *AuthApi) Session(c *gin.Context) {
	session, ok := interceptors.GetSession(c)
	if !ok {
		ApiErrorf(c, http.StatusUnauthorized, "no session")
		return
	}
	c.JSON(http.StatusOK, types.OutputSessionInfo{
		IdentityID:    session.IdentityID,
		Email:         session.Email,
		Name:          session.Name,
		WalletID:      session.WalletID,
		WalletAddress: session.WalletAddress,
		ExpiresAt:     session.ExpiresAt,
	})
}

// Logout
// @Summary Log out
// @Description Acknowledges sign-out. Tokens are stateless and stay valid until expiry; clients discard them.
// @Tags Authentication
// @Success 200 {object} types.OK
// @Failure 401 {object} api.ApiError "invalid or expired session token"
// @Produce json
// @Router /api/v1/logout [post]
func (aa *AuthApi) Logout(c *gin.Context) {
	if _, ok := interceptors.GetSession(c); !ok {
		ApiErrorf(c, http.StatusUnauthorized, "no session")
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}
