package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/payva/go-payva-auth/services"
)

type JwksApi struct {
	tokenService *services.TokenService
}

func NewJwksApi(tokenService *services.TokenService) *JwksApi {
	return &JwksApi{tokenService: tokenService}
}

// JWKS
// @Summary Session token verification keys
// @Description Publishes the public signing key so downstream services can verify session tokens locally
// @Tags Authentication
// @Success 200 {object} map[string]interface{}
// @Produce json
// @Router /.well-known/jwks.json [get]
func (ja *JwksApi) Jwks(c *gin.Context) {
	set, err := ja.tokenService.PublicJWKS()
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to build key set")
		return
	}
	c.JSON(http.StatusOK, set)
}
