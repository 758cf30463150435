package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/hako/durafmt"
	"github.com/ironstar-io/chizerolog"
	"github.com/rs/zerolog"

	apiAuth "github.com/campusweb/sso-portal-api/api/auth"
	"github.com/campusweb/sso-portal-api/auth"
	"github.com/campusweb/sso-portal-api/cas"
	sessionMongo "github.com/campusweb/sso-portal-api/session/mongo"
)

// PortalServer is a struct that bundles together the various server-wide
// resources used at runtime that each have
// a lifecycle of initialization, connection, and disconnection
type PortalServer struct {
	sessionProvider *sessionMongo.Provider
	authenticator   *cas.Authenticator
	broker          *cas.ProxyTicketBroker
	jwtManager      *auth.JWTManager
	logger          zerolog.Logger
}

// NewPortalServer initializes the struct and all constituent components
func NewPortalServer(logger zerolog.Logger) (*PortalServer, error) {
	// Initialize the MongoDB session store
	secureCookies := true
	if value, ok := os.LookupEnv("INSECURE_COOKIES"); ok && value != "" {
		secureCookies = false
	}
	sessionProvider, err := sessionMongo.NewProvider(secureCookies)
	if err != nil {
		return nil, err
	}

	// Initialize the CAS authenticator
	authenticator, err := newAuthenticator(sessionProvider, &logger)
	if err != nil {
		return nil, err
	}

	// The broker reuses the authenticator's protocol client
	// for the proxy-ticket exchange
	broker := cas.NewProxyTicketBroker(sessionProvider,
		authenticator.SessionKey(), authenticator.Client())

	// Initialize the JWT manager
	jwtManager, err := auth.NewJWTManager()
	if err != nil {
		return nil, err
	}

	return &PortalServer{
		sessionProvider,
		authenticator,
		broker,
		jwtManager,
		logger,
	}, nil
}

// newAuthenticator assembles the CAS authenticator from the environment
func newAuthenticator(store cas.SessionStore, logger *zerolog.Logger) (*cas.Authenticator, error) {
	casBaseURL, ok := os.LookupEnv("CAS_SERVER_URL")
	if !ok || casBaseURL == "" {
		return nil, cas.NewConfigurationError("CAS server URL (CAS_SERVER_URL)")
	}

	config := cas.Config{
		BaseURL: casBaseURL,
		Verify:  newVerifyCallback(),
		Store:   store,
		Logger:  logger,
	}

	if value, ok := os.LookupEnv("CAS_SESSION_KEY"); ok {
		config.SessionKey = value
	}
	if value, ok := os.LookupEnv("PGT_CALLBACK_URL"); ok {
		config.PGTCallbackURL = value
	}
	if value, ok := os.LookupEnv("PGT_SERVER_URL"); ok {
		config.PGTServerURL = value
	}
	if value, ok := os.LookupEnv("CAS_RENEW"); ok && value != "" {
		config.Renew = true
	}
	if value, ok := os.LookupEnv("CAS_GATEWAY"); ok && value != "" {
		config.Gateway = true
	}

	// The property map translates per-deployment attribute names
	// into the normalized profile fields
	if value, ok := os.LookupEnv("CAS_PROPERTY_MAP"); ok && value != "" {
		propertyMap := cas.PropertyMap{}
		err := json.Unmarshal([]byte(value), &propertyMap)
		if err != nil {
			return nil, cas.NewConfigurationError("property map (CAS_PROPERTY_MAP)")
		}
		config.PropertyMap = propertyMap
	}

	return cas.NewAuthenticator(config)
}

// newVerifyCallback builds the identity verification callback,
// optionally restricted to an allowlist of usernames
// from the AUTH_ALLOWED_USERS environment variable
func newVerifyCallback() cas.VerifyFunc {
	allowed := map[string]struct{}{}
	if value, ok := os.LookupEnv("AUTH_ALLOWED_USERS"); ok {
		for _, username := range strings.Split(value, ",") {
			username = strings.TrimSpace(username)
			if username != "" {
				allowed[username] = struct{}{}
			}
		}
	}

	return func(username string, profile *cas.Profile) (interface{}, string, error) {
		if len(allowed) > 0 {
			if _, ok := allowed[username]; !ok {
				return nil, "user is not permitted to access this service", nil
			}
		}

		return profile, "", nil
	}
}

// Connect initializes the struct and all constituent components
func (p *PortalServer) Connect(ctx context.Context) error {
	// Connect to the MongoDB database
	p.logger.Info().Msg("initializing MongoDB session provider")
	err := p.sessionProvider.Connect(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("could not connect to the database")
		return err
	}

	ttl := durafmt.Parse(p.sessionProvider.TTL()).String()
	p.logger.Info().Str("session_ttl", ttl).
		Msg("successfully connected to and pinged the database")

	return nil
}

// Disconnect initializes the struct and all constituent components
func (p *PortalServer) Disconnect(ctx context.Context) error {
	err := p.sessionProvider.Disconnect(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("could not disconnect from the database")
		return err
	}
	p.logger.Info().Msg("disconnected from the database")

	return nil
}

// Serve runs the main portal API server until it's cancelled for some reason,
// in which case it attempts to gracefully shutdown.
// This function blocks.
func (p *PortalServer) Serve(ctx context.Context, port int) {
	router := p.routes()
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Fatal().Err(err).Msg("listen failed")
		}
	}()
	p.logger.Info().Int("port", port).Msg("portal API server started")

	<-ctx.Done()
	p.logger.Info().Msg("portal API server stopped")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer func() {
		cancel()
	}()

	if err := server.Shutdown(ctx); err != nil {
		p.logger.Fatal().Err(err).Msg("portal API server shutdown failed")
	}
	p.logger.Info().Msg("portal API server exited properly")
}

func (p *PortalServer) routes() *chi.Mux {
	// Approach from:
	// https://itnext.io/structuring-a-production-grade-rest-api-in-golang-c0229b3feedc
	// https://itnext.io/how-i-pass-around-shared-resources-databases-configuration-etc-within-golang-projects-b27af4d8e8a
	router := chi.NewRouter()
	router.Use(
		middleware.Recoverer,                          // Recover from panics without crashing the server
		chizerolog.LoggerMiddleware(&p.logger),        // Log API request calls
		middleware.RedirectSlashes,                    // Redirect slashes to no slash URL versions
		render.SetContentType(render.ContentTypeJSON), // Set content-type headers to application/json
		middleware.Compress(5),                        // Compress results, mostly gzipping assets and json
		middleware.NoCache,                            // Prevent clients from caching the results
		p.corsMiddleware(),                            // Create cors middleware from go-chi/cors
	)

	// ==============================
	// Add all routes to the API here
	// ==============================
	router.Route("/v1", func(r chi.Router) {
		// Can be used for health checks
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(204)
		})

		r.Mount("/auth", apiAuth.Routes(p.authenticator, p.broker, p.jwtManager))
	})

	return router
}

func (p *PortalServer) corsMiddleware() func(http.Handler) http.Handler {
	// See if the CORS_ALLOWED_ORIGINS environment variable was set
	allowedOrigins := "*"
	if value, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		allowedOrigins = value
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{allowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
