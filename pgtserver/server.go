package pgtserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/campusweb/sso-portal-api/cas"
	"github.com/campusweb/sso-portal-api/util"
)

// Config carries the settings for a Server
type Config struct {
	// CASBaseURL is the CAS server base URL the /proxy exchange runs against
	CASBaseURL string
	// StoreTTL bounds how long a delivered grant is kept
	StoreTTL time.Duration
	// EvictionInterval is how often expired grants are swept
	EvictionInterval time.Duration
	// HTTPClient overrides the default outbound client
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Server is the proxy-granting ticket callback listener: a separate process
// that the CAS server delivers PGT grants to over HTTPS, and that the main
// app asks for proxy tickets through a narrow request/response contract.
// It must tolerate concurrent callback deliveries from the CAS server
type Server struct {
	casURL     *url.URL
	store      *TicketStore
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewServer validates the configuration and creates a new instance
// of the Server
func NewServer(config Config) (*Server, error) {
	if config.CASBaseURL == "" {
		return nil, cas.NewConfigurationError("CAS server base URL")
	}

	casURL, err := url.Parse(config.CASBaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse the CAS server base URL")
	}

	storeTTL := config.StoreTTL
	if storeTTL == 0 {
		storeTTL = time.Hour
	}
	evictionInterval := config.EvictionInterval
	if evictionInterval == 0 {
		evictionInterval = 5 * time.Minute
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Server{
		casURL:     casURL,
		store:      NewTicketStore(evictionInterval, int64(storeTTL/time.Second)),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Routes creates a new Chi router with the callback and exchange endpoints
func (s *Server) Routes() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/pgtCallback", s.Callback())
	router.Get("/proxyTicket", s.IssueProxyTicket())

	return router
}

// Callback accepts the CAS server's proxy-granting ticket delivery.
// The server first probes the URL without parameters to check reachability,
// and both cases must answer 200 for the login validation to proceed
func (s *Server) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pgtIOU := r.URL.Query().Get("pgtIou")
		pgtID := r.URL.Query().Get("pgtId")

		if pgtIOU == "" || pgtID == "" {
			w.WriteHeader(http.StatusOK)
			return
		}

		s.store.Put(pgtIOU, pgtID)
		s.logger.Debug().
			Str("pgt_iou", pgtIOU).
			Msg("stored a proxy-granting ticket delivery")

		w.WriteHeader(http.StatusOK)
	}
}

// proxyTicketResponse is the JSON shape returned for exchange requests
type proxyTicketResponse struct {
	Ticket string `json:"ticket"`
}

// IssueProxyTicket answers the main app's proxy-ticket requests by resolving
// the IOU to its grant and running the CAS /proxy exchange
func (s *Server) IssueProxyTicket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pgtIOU := r.URL.Query().Get("pgtIou")
		targetService := r.URL.Query().Get("targetService")
		if pgtIOU == "" || targetService == "" {
			util.ErrorWithCode(w,
				errors.New("pgtIou and targetService are both required"),
				http.StatusBadRequest)
			return
		}

		pgt, ok := s.store.Get(pgtIOU)
		if !ok {
			util.ErrorWithCode(w, NewUnknownGrantError(pgtIOU), http.StatusNotFound)
			return
		}

		ticket, err := s.exchange(r, pgt, targetService)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("target_service", targetService).
				Msg("proxy ticket exchange failed")
			util.Error(w, err)
			return
		}

		response := proxyTicketResponse{Ticket: ticket}
		jsonResponse, err := json.Marshal(response)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(jsonResponse)
	}
}

// exchange runs the CAS /proxy request for a grant and target service
func (s *Server) exchange(r *http.Request, pgt string, targetService string) (string, error) {
	proxyURL, err := s.casURL.Parse(path.Join(s.casURL.Path, "proxy"))
	if err != nil {
		return "", err
	}

	q := proxyURL.Query()
	q.Add("pgt", pgt)
	q.Add("targetService", targetService)
	proxyURL.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, proxyURL.String(), nil)
	if err != nil {
		return "", err
	}
	req = req.WithContext(r.Context())

	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "could not reach the CAS server for the proxy exchange")
	}
	defer res.Body.Close()

	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "could not read the CAS proxy response")
	}

	if res.StatusCode != http.StatusOK {
		return "", cas.NewValidationError("",
			fmt.Sprintf("CAS server returned status %d", res.StatusCode))
	}

	return cas.ParseProxyResponse(body)
}

// Serve runs the callback listener until it's cancelled for some reason,
// in which case it attempts to gracefully shutdown.
// The CAS server requires the callback URL to be HTTPS, so certFile and
// keyFile select TLS when both are given.
// This function blocks.
func (s *Server) Serve(ctx context.Context, port int, certFile string, keyFile string) {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Routes(),
	}

	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = server.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Fatal().Err(err).Msg("listen failed")
		}
	}()
	s.logger.Info().Int("port", port).Msg("PGT callback server started")

	<-ctx.Done()
	s.logger.Info().Msg("PGT callback server stopped")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer func() {
		cancel()
	}()

	if err := server.Shutdown(ctx); err != nil {
		s.logger.Fatal().Err(err).Msg("PGT callback server shutdown failed")
	}
	s.logger.Info().Msg("PGT callback server exited properly")
}
