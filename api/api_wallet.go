package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/payva/go-payva-auth/api/interceptors"
	"github.com/payva/go-payva-auth/services"
	"github.com/payva/go-payva-auth/types"
)

type WalletApi struct {
	walletService *services.WalletService
	validate      *validator.Validate
}

func NewWalletApi(walletService *services.WalletService) *WalletApi {
	return &WalletApi{
		walletService: walletService,
		validate:      validator.New(),
	}
}

func toWalletSummary(wallet *types.Wallet) types.OutputWalletSummary {
	return types.OutputWalletSummary{
		WalletID: wallet.WalletID,
		Address:  wallet.Address,
		Active:   wallet.Active,
		Created:  wallet.Created,
	}
}

// Get wallet
// @Summary Get the caller's wallet
// @Description Returns the public wallet fields for the authenticated identity
// @Tags Wallet
// @Success 200 {object} types.OutputWalletSummary
// @Failure 401 {object} api.ApiError "invalid or expired session token"
// @Failure 404 {object} api.ApiError "no wallet for this identity"
// @Produce json
// @Router /api/v1/wallet [get]
func (wa *WalletApi) GetWallet(c *gin.Context) {
	session, ok := interceptors.GetSession(c)
	if !ok {
		ApiErrorf(c, http.StatusUnauthorized, "no session")
		return
	}
	wallet, err := wa.walletService.GetByIdentity(c.Request.Context(), session.IdentityID)
	if err != nil {
		if err == types.ErrWalletNotFound {
			ApiErrorf(c, http.StatusNotFound, "wallet not found")
		} else {
			ApiErrorf(c, http.StatusInternalServerError, "failed to load wallet")
		}
		return
	}
	c.JSON(http.StatusOK, toWalletSummary(wallet))
}

// Deactivate wallet
// @Summary Deactivate the caller's wallet
// @Description Logically deletes the wallet; the record stays for the audit trail
// @Tags Wallet
// @Param input body types.InputDeactivateWallet true "wallet to deactivate"
// @Success 200 {object} types.OK
// @Failure 401 {object} api.ApiError "not the wallet owner"
// @Failure 404 {object} api.ApiError "no wallet for this identity"
// @Accept json
// @Produce json
// @Router /api/v1/wallet/deactivate [post]
func (wa *WalletApi) Deactivate(c *gin.Context) {
	session, ok := interceptors.GetSession(c)
	if !ok {
		ApiErrorf(c, http.StatusUnauthorized, "no session")
		return
	}
	var input types.InputDeactivateWallet
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := wa.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "%s", ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}

	done, err := wa.walletService.Deactivate(c.Request.Context(), input.WalletID, session.IdentityID)
	if err != nil {
		switch err {
		case types.ErrWalletNotFound:
			ApiErrorf(c, http.StatusNotFound, "wallet not found")
		case types.ErrUnauthorized:
			ApiErrorf(c, http.StatusUnauthorized, "not the wallet owner")
		default:
			ApiErrorf(c, http.StatusInternalServerError, "failed to deactivate wallet")
		}
		return
	}
	c.JSON(http.StatusOK, types.OK{IsOK: done})
}

// Begin wallet recovery
// @Summary Request a wallet recovery code
// @Description Sends a one-time code to the recovery email. The response is identical whether or not the email has a wallet.
// @Tags Wallet
// @Param input body types.InputBeginRecovery true "recovery email"
// @Success 200 {object} types.OK
// @Failure 429 {object} api.ApiError "rate limit exceeded"
// @Accept json
// @Produce json
// @Router /api/v1/wallet/recovery [post]
func (wa *WalletApi) BeginRecovery(c *gin.Context) {
	var input types.InputBeginRecovery
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := wa.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "%s", ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}
	if err := wa.walletService.BeginRecovery(c.Request.Context(), input.Email); err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to start recovery")
		return
	}
	// identical body for known and unknown emails
	c.JSON(http.StatusOK, types.OK{IsOK: true})
}

// Complete wallet recovery
// @Summary Redeem a wallet recovery code
// @Description Consumes the one-time code and returns the wallet it unlocks
// @Tags Wallet
// @Param input body types.InputCompleteRecovery true "recovery email and code"
// @Success 200 {object} types.OutputWalletSummary
// @Failure 401 {object} api.ApiError "invalid or expired recovery code"
// @Accept json
// @Produce json
// @Router /api/v1/wallet/recovery/complete [post]
func (wa *WalletApi) CompleteRecovery(c *gin.Context) {
	var input types.InputCompleteRecovery
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if vErr := wa.validate.Struct(input); vErr != nil {
		ApiErrorf(c, http.StatusBadRequest, "%s", ValidatorErrorToUser(vErr.(validator.ValidationErrors)))
		return
	}
	wallet, err := wa.walletService.CompleteRecovery(c.Request.Context(), input.Email, input.Code)
	if err != nil {
		switch err {
		case types.ErrRecoveryCodeExpired:
			ApiErrorf(c, http.StatusUnauthorized, "recovery code expired")
		case types.ErrRecoveryCodeInvalid:
			ApiErrorf(c, http.StatusUnauthorized, "invalid recovery code")
		default:
			ApiErrorf(c, http.StatusInternalServerError, "failed to complete recovery")
		}
		return
	}
	c.JSON(http.StatusOK, toWalletSummary(wallet))
}
