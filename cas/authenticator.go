package cas

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Status enumerates the terminal outcomes of one pass through the handshake
type Status int

const (
	// StatusRedirected means a redirect response was written and the
	// handshake continues on a later request
	StatusRedirected Status = iota
	// StatusAuthenticated means the verify callback accepted the user
	StatusAuthenticated
	// StatusRejected means the ticket or the user was rejected
	StatusRejected
)

// Outcome is the tagged result of Authenticate
type Outcome struct {
	Status   Status
	Identity interface{}
	Info     string
	// Err carries the rejection cause when Status is StatusRejected
	Err error
}

// VerifyFunc resolves an application identity for an authenticated user.
// A nil identity rejects the user with info as the reason; a non-nil error
// is an internal application failure, distinct from a rejection
type VerifyFunc func(username string, profile *Profile) (identity interface{}, info string, err error)

// VerifyRequestFunc is a VerifyFunc that also receives the inbound request
type VerifyRequestFunc func(r *http.Request, username string, profile *Profile) (identity interface{}, info string, err error)

// Config carries the settings for an Authenticator.
// BaseURL and one of Verify or VerifyWithRequest are required
type Config struct {
	// BaseURL is the CAS server base URL
	BaseURL string
	// Verify resolves the application identity at the end of the handshake
	Verify VerifyFunc
	// VerifyWithRequest replaces Verify when the callback needs the request
	VerifyWithRequest VerifyRequestFunc
	// Validator overrides the protocol client used for ticket validation
	Validator TicketValidator
	// PropertyMap translates profile fields to server-specific attribute names
	PropertyMap PropertyMap
	// Store receives the CAS session record after a successful login
	Store SessionStore
	// SessionKey defaults to DefaultSessionKey
	SessionKey string
	// PGTCallbackURL enables proxy-granting tickets during validation
	PGTCallbackURL string
	// PGTServerURL is the PGT callback listener used for the proxy exchange
	PGTServerURL string
	// Renew and Gateway toggle the corresponding CAS login parameters
	Renew   bool
	Gateway bool
	// HTTPClient overrides the default outbound client
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Authenticator drives the CAS login handshake for inbound requests
type Authenticator struct {
	client        *Client
	validator     TicketValidator
	propertyMap   PropertyMap
	store         SessionStore
	sessionKey    string
	storePGT      bool
	renew         bool
	gateway       bool
	verify        VerifyFunc
	verifyRequest VerifyRequestFunc
	windowToken   func() int64
	logger        zerolog.Logger
}

// NewAuthenticator validates the configuration and creates a new instance
// of the Authenticator
func NewAuthenticator(config Config) (*Authenticator, error) {
	if config.Verify == nil && config.VerifyWithRequest == nil {
		return nil, NewConfigurationError("verify callback")
	}

	client, err := NewClient(ClientConfig{
		BaseURL:        config.BaseURL,
		PGTCallbackURL: config.PGTCallbackURL,
		PGTServerURL:   config.PGTServerURL,
		HTTPClient:     config.HTTPClient,
		Logger:         config.Logger,
	})
	if err != nil {
		return nil, err
	}

	validator := TicketValidator(client)
	if config.Validator != nil {
		validator = config.Validator
	}

	sessionKey := config.SessionKey
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Authenticator{
		client:        client,
		validator:     validator,
		propertyMap:   config.PropertyMap,
		store:         config.Store,
		sessionKey:    sessionKey,
		storePGT:      config.PGTCallbackURL != "",
		renew:         config.Renew,
		gateway:       config.Gateway,
		verify:        config.Verify,
		verifyRequest: config.VerifyWithRequest,
		windowToken:   WindowToken,
		logger:        logger,
	}, nil
}

// Client exposes the underlying protocol client, used for logout URL
// construction and the proxy-ticket exchange
func (a *Authenticator) Client() *Client {
	return a.client
}

// SessionKey returns the key the CAS record is stored under
func (a *Authenticator) SessionKey() string {
	return a.sessionKey
}

// Authenticate runs one pass of the handshake for the request.
// It either writes a single redirect response (Outcome.Status is
// StatusRedirected) or invokes the verify callback exactly once.
// A non-nil error is an internal failure to be surfaced as such
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request) (*Outcome, error) {
	service, err := ServiceURL(r)
	if err != nil {
		return nil, err
	}

	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		return a.redirectToLogin(w, r, service)
	}

	validation, err := a.validator.ValidateTicket(r.Context(), service, ticket)
	if err != nil {
		return a.recoverValidationFailure(w, r, service, err)
	}

	return a.completeLogin(w, r, validation)
}

// redirectToLogin sends the user to the CAS login page with the service
// callback URL attached
func (a *Authenticator) redirectToLogin(w http.ResponseWriter, r *http.Request, service *url.URL) (*Outcome, error) {
	loginURL, err := a.client.LoginURL(service.String(), a.renew, a.gateway)
	if err != nil {
		return nil, err
	}

	a.logger.Debug().
		Str("service", service.String()).
		Msg("redirecting to CAS login")

	// 307 preserves the request method across the redirect round-trip
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
	return &Outcome{Status: StatusRedirected}, nil
}

// recoverValidationFailure re-attempts the handshake once per minute window
// by redirecting to the original URL with the stale ticket discarded,
// then surfaces the original validation error
func (a *Authenticator) recoverValidationFailure(w http.ResponseWriter, r *http.Request, service *url.URL, cause error) (*Outcome, error) {
	token := a.windowToken()
	if HasRetried(r, token) {
		a.logger.Warn().
			Err(cause).
			Msg("CAS ticket validation failed after a retry")
		return &Outcome{
			Status: StatusRejected,
			Info:   "ticket validation failed",
			Err:    cause,
		}, nil
	}

	// The service URL already had the ticket stripped; replace any earlier
	// retry marker with the current window's token
	retryURL := *service
	marker := RetryParameter + "=" + strconv.FormatInt(token, 10)
	retryURL.RawQuery = stripQueryParam(retryURL.RawQuery, RetryParameter)
	if retryURL.RawQuery == "" {
		retryURL.RawQuery = marker
	} else {
		retryURL.RawQuery += "&" + marker
	}

	a.logger.Debug().
		Err(cause).
		Str("retry_url", retryURL.String()).
		Msg("discarding stale ticket and retrying the CAS handshake")

	http.Redirect(w, r, retryURL.String(), http.StatusTemporaryRedirect)
	return &Outcome{Status: StatusRedirected}, nil
}

// completeLogin maps the validated identity into a profile, records the
// session, and resolves the application identity via the verify callback
func (a *Authenticator) completeLogin(w http.ResponseWriter, r *http.Request, validation *ValidationOutcome) (*Outcome, error) {
	profile := MapProfile(validation.Username, validation.Attributes, a.propertyMap, validation.PGTIOU)

	if a.store != nil {
		record := &Record{
			Username: validation.Username,
			IssuedAt: time.Now(),
		}
		if a.storePGT {
			record.PGTIOU = validation.PGTIOU
		}

		err := a.store.Set(w, r, a.sessionKey, record)
		if err != nil {
			return nil, err
		}
	}

	var identity interface{}
	var info string
	var err error
	if a.verifyRequest != nil {
		identity, info, err = a.verifyRequest(r, validation.Username, profile)
	} else {
		identity, info, err = a.verify(validation.Username, profile)
	}

	if err != nil {
		return nil, NewApplicationError(err)
	}

	if identity == nil {
		a.logger.Info().
			Str("username", validation.Username).
			Str("info", info).
			Msg("verify callback rejected the user")
		return &Outcome{Status: StatusRejected, Info: info}, nil
	}

	a.logger.Info().
		Str("username", validation.Username).
		Msg("user authenticated via CAS")
	return &Outcome{
		Status:   StatusAuthenticated,
		Identity: identity,
		Info:     info,
	}, nil
}

// Logout clears the session record and writes a redirect to the CAS logout
// endpoint, optionally passing returnURL for the server to send the user
// back to afterwards
func (a *Authenticator) Logout(w http.ResponseWriter, r *http.Request, returnURL string) error {
	if a.store != nil {
		err := a.store.Delete(w, r, a.sessionKey)
		if err != nil {
			return err
		}
	}

	logoutURL, err := a.client.LogoutURL(returnURL)
	if err != nil {
		return err
	}

	http.Redirect(w, r, logoutURL, http.StatusFound)
	return nil
}
