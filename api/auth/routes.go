package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"

	"github.com/campusweb/sso-portal-api/auth"
	"github.com/campusweb/sso-portal-api/cas"
	"github.com/campusweb/sso-portal-api/types"
	"github.com/campusweb/sso-portal-api/util"
)

// Routes creates a new Chi router with all of the routes for the auth flow
func Routes(authenticator *cas.Authenticator, broker *cas.ProxyTicketBroker,
	jwtManager *auth.JWTManager) *chi.Mux {

	// Try to see how long issued tokens should live
	var tokenExpirationHours *int64 = nil
	if value, ok := os.LookupEnv("AUTH_JWT_TOKEN_EXPIRES_AFTER"); ok {
		valueInt, err := strconv.Atoi(value)
		if err == nil {
			valueInt64 := int64(valueInt)
			tokenExpirationHours = &valueInt64
		}
	}

	router := chi.NewRouter()

	// Public routes
	router.Group(func(r chi.Router) {
		r.Get("/login", Login(authenticator, jwtManager, tokenExpirationHours))
		r.Get("/logout", Logout(authenticator))
	})

	// Protect the session and proxy-ticket routes and validate JWTs
	router.Group(func(r chi.Router) {
		// Seek, verify and validate JWT tokens,
		// sending appropriate status codes upon failure.
		r.Use(jwtManager.Authenticated())

		r.Get("/session", Session())
		r.Get("/proxy-ticket", ProxyTicket(broker))
	})

	return router
}

// TokenResponse bundles together the signed token, the session,
// and the user's profile
type TokenResponse struct {
	Token   string        `json:"token"`
	Session types.Session `json:"session"`
	Profile *cas.Profile  `json:"profile"`
}

// Login handles the SSO login flow via the CAS protocol v2.
// Redirect legs of the handshake are written by the authenticator itself;
// a completed handshake is answered with a signed JWT
func Login(authenticator *cas.Authenticator, jwtManager *auth.JWTManager,
	tokenExpirationHours *int64) http.HandlerFunc {

	// Use a closure to inject dependencies
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := authenticator.Authenticate(w, r)
		if err != nil {
			util.Error(w, err)
			return
		}

		switch outcome.Status {
		case cas.StatusRedirected:
			// The handshake continues on a later request
			return

		case cas.StatusRejected:
			cause := outcome.Err
			if cause == nil {
				info := outcome.Info
				if info == "" {
					info = "the login was rejected"
				}
				cause = errors.New(info)
			}
			util.ErrorWithCode(w, cause, http.StatusUnauthorized)
			return

		case cas.StatusAuthenticated:
			profile, ok := outcome.Identity.(*cas.Profile)
			if !ok {
				util.Error(w, errors.New("the verify callback returned an unexpected identity"))
				return
			}

			session := types.Session{
				Username:     profile.ID,
				DisplayName:  profile.DisplayName,
				GivenName:    profile.Name.GivenName,
				FamilyName:   profile.Name.FamilyName,
				IssuedAt:     time.Now(),
				ExpiresAfter: tokenExpirationHours,
			}

			token := jwtManager.IssueJWT(session)
			signed, err := jwtManager.SignToken(token)
			if err != nil {
				util.Error(w, err)
				return
			}

			responseData := TokenResponse{
				Token:   signed,
				Session: session,
				Profile: profile,
			}
			jsonResponse, err := json.Marshal(responseData)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(jsonResponse)
		}
	}
}

// Logout ends the host session and sends the user to the CAS logout page,
// optionally passing along a return URL from the redirect_uri parameter
func Logout(authenticator *cas.Authenticator) http.HandlerFunc {
	// Use a closure to inject dependencies
	return func(w http.ResponseWriter, r *http.Request) {
		returnURL := strings.TrimSpace(r.URL.Query().Get("redirect_uri"))

		err := authenticator.Logout(w, r, returnURL)
		if err != nil {
			util.Error(w, err)
		}
	}
}

// SessionResponse bundles together the session from the caller's JWT
type SessionResponse struct {
	Session types.Session `json:"session"`
}

// Session returns the inner data of the user's session by reading their JWT
// and validating it
func Session() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Extract the claims from the token
		_, claims, err := auth.FromContext(r.Context())
		if err != nil {
			util.ErrorWithCode(w, err, http.StatusUnauthorized)
			return
		}

		// Create the response object and send it to the user
		responseData := SessionResponse{
			Session: *claims.Session(),
		}
		jsonResponse, err := json.Marshal(responseData)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(jsonResponse)
	}
}

// ProxyTicketResponse bundles together the issued proxy ticket
type ProxyTicketResponse struct {
	Ticket string `json:"ticket"`
}

// ProxyTicket requests a proxy ticket for the target service on behalf of
// the authenticated user's CAS session
func ProxyTicket(broker *cas.ProxyTicketBroker) http.HandlerFunc {
	// Use a closure to inject dependencies
	return func(w http.ResponseWriter, r *http.Request) {
		targetService := strings.TrimSpace(r.URL.Query().Get("target"))
		if targetService == "" {
			util.ErrorWithCode(w, errors.New("target is required"),
				http.StatusBadRequest)
			return
		}

		ticket, err := broker.RequestProxyTicket(r, targetService)
		if err != nil {
			util.Error(w, err)
			return
		}

		responseData := ProxyTicketResponse{Ticket: ticket}
		jsonResponse, err := json.Marshal(responseData)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(jsonResponse)
	}
}
