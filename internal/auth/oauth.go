package auth

import (
	"log/slog"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/go-oauth2/oauth2/v4/errors"
	"github.com/go-oauth2/oauth2/v4/generates"
	"github.com/go-oauth2/oauth2/v4/manage"
	"github.com/go-oauth2/oauth2/v4/models"
	"github.com/go-oauth2/oauth2/v4/server"
	"github.com/go-oauth2/oauth2/v4/store"
	"github.com/golang-jwt/jwt/v5"
)

// NewAuthorizationServer configures the OAuth 2.0 server that issues the
// JWT access tokens the storefront presents to the payment API. The token's
// subject becomes the owning userID on every purchase.
func NewAuthorizationServer(jwtSecret, clientID, clientSecret string, logger *slog.Logger) *server.Server {
	manager := manage.NewDefaultManager()

	manager.MustTokenStorage(store.NewMemoryTokenStore())

	// Tokens are JWTs signed with the same secret the API middleware
	// verifies against.
	manager.MapAccessGenerate(generates.NewJWTAccessGenerate("", []byte(jwtSecret), jwt.SigningMethodHS256))

	clientStore := store.NewClientStore()
	err := clientStore.Set(clientID, &models.Client{
		ID:     clientID,
		Secret: clientSecret,
		Domain: "http://localhost",
	})
	if err != nil {
		logger.Error("failed to set client in store", "error", err)
		return nil
	}
	manager.MapClientStorage(clientStore)

	srv := server.NewServer(server.NewConfig(), manager)

	srv.SetAllowGetAccessRequest(true)
	srv.SetClientInfoHandler(server.ClientFormHandler)

	srv.SetExtensionFieldsHandler(func(ti oauth2.TokenInfo) (fieldsValue map[string]interface{}) {
		fieldsValue = map[string]interface{}{
			"sub":   ti.GetUserID(),
			"roles": []string{"customer"},
		}
		if fieldsValue["sub"] == "" {
			// Client-credentials grants have no resource owner; fall back
			// to the client id so service callers still get a subject.
			fieldsValue["sub"] = ti.GetClientID()
		}
		return
	})

	srv.SetInternalErrorHandler(func(err error) (re *errors.Response) {
		logger.Error("internal OAuth2 server error", "error", err)
		return
	})

	logger.Info("OAuth 2.0 server configured successfully")
	return srv
}
