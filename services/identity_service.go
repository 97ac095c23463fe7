package services

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/types"
)

// IdentityService exchanges a one-time authorization code for a verified
// identity assertion. Stateless; the only secret it holds is the registered
// client credential from config.
type IdentityService struct {
	restyClient *resty.Client
}

func NewIdentityService() *IdentityService {
	// retry only network failures and provider 5xx; a 4xx is never transient
	restyClient := resty.New().
		SetTimeout(time.Second * 10).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &IdentityService{restyClient: restyClient}
}

type providerTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

type providerErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type providerProfile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// ExchangeCode trades the provider-issued authorization code for an access
// token and fetches the profile. Identities whose email the provider did not
// verify are rejected.
func (is *IdentityService) ExchangeCode(ctx context.Context, code string) (*types.Identity, error) {
	if code == "" {
		return nil, types.ErrBadRequest
	}
	conf := global.Conf.Google

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", conf.ClientID)
	form.Set("client_secret", conf.ClientSecret)
	form.Set("redirect_uri", conf.RedirectURL)

	var token providerTokenResponse
	var provErr providerErrorResponse
	resp, err := is.restyClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(form.Encode()).
		SetResult(&token).
		SetError(&provErr).
		Post(conf.TokenURL)
	if err != nil {
		level.Error(global.Logger).Log("msg", "token exchange failed", "error", err)
		return nil, types.ErrTransientProvider
	}
	if resp.IsError() {
		return nil, translateProviderError(resp.StatusCode(), provErr.Error)
	}
	if token.AccessToken == "" {
		return nil, types.ErrProviderRejected
	}

	return is.fetchProfile(ctx, token.AccessToken)
}

func (is *IdentityService) fetchProfile(ctx context.Context, accessToken string) (*types.Identity, error) {
	var profile providerProfile
	var provErr providerErrorResponse
	resp, err := is.restyClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&profile).
		SetError(&provErr).
		Get(global.Conf.Google.UserInfoURL)
	if err != nil {
		level.Error(global.Logger).Log("msg", "profile fetch failed", "error", err)
		return nil, types.ErrTransientProvider
	}
	if resp.IsError() {
		return nil, translateProviderError(resp.StatusCode(), provErr.Error)
	}
	if profile.ID == "" || profile.Email == "" {
		return nil, types.ErrProviderRejected
	}
	// fail closed on unverified emails
	if !profile.VerifiedEmail {
		return nil, types.ErrEmailNotVerified
	}
	return &types.Identity{
		ID:            profile.ID,
		Email:         strings.ToLower(profile.Email),
		Name:          profile.Name,
		EmailVerified: profile.VerifiedEmail,
	}, nil
}

func translateProviderError(statusCode int, providerCode string) error {
	if statusCode >= 500 {
		return types.ErrTransientProvider
	}
	switch providerCode {
	case "invalid_client", "unauthorized_client":
		return types.ErrInvalidClient
	case "invalid_request", "redirect_uri_mismatch":
		return types.ErrInvalidRequest
	case "invalid_grant":
		// code expired or already used; the whole flow has to restart
		return types.ErrProviderRejected
	default:
		return types.ErrProviderRejected
	}
}
