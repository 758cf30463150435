package cas

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TicketValidator is the narrow surface of the CAS wire protocol that the
// authentication handshake depends on
type TicketValidator interface {
	ValidateTicket(ctx context.Context, service *url.URL, ticket string) (*ValidationOutcome, error)
}

// ProxyTicketExchanger issues proxy tickets for a previously captured
// proxy-granting ticket IOU. The exchange is served by the PGT callback
// listener, which runs as a separate process
type ProxyTicketExchanger interface {
	ProxyTicket(ctx context.Context, pgtIOU string, targetService string) (string, error)
}

// ClientConfig carries the settings for a Client
type ClientConfig struct {
	// BaseURL is the CAS server base URL (e.g. https://sso.example.com/cas)
	BaseURL string
	// PGTCallbackURL, when set, is sent as the pgtUrl parameter during
	// validation so the CAS server issues a proxy-granting ticket
	PGTCallbackURL string
	// PGTServerURL is the base URL of the PGT callback listener used to
	// exchange a PGTIOU for proxy tickets
	PGTServerURL string
	// HTTPClient overrides the default outbound client
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client implements the CAS 2.0 ticket validation exchange against a CAS
// server, plus the proxy-ticket exchange against the PGT callback listener
type Client struct {
	baseURL        *url.URL
	pgtCallbackURL string
	pgtServerURL   *url.URL
	httpClient     *http.Client
	logger         zerolog.Logger
}

// NewClient creates a new instance of the Client from explicit configuration
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, NewConfigurationError("CAS server base URL")
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse the CAS server base URL")
	}

	var pgtServerURL *url.URL
	if config.PGTServerURL != "" {
		pgtServerURL, err = url.Parse(config.PGTServerURL)
		if err != nil {
			return nil, errors.Wrap(err, "could not parse the PGT server URL")
		}
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

	return &Client{
		baseURL:        baseURL,
		pgtCallbackURL: config.PGTCallbackURL,
		pgtServerURL:   pgtServerURL,
		httpClient:     httpClient,
		logger:         logger,
	}, nil
}

// endpoint resolves a CAS endpoint name against the server base URL
func (c *Client) endpoint(name string) (*url.URL, error) {
	return c.baseURL.Parse(path.Join(c.baseURL.Path, name))
}

// LoginURL constructs the CAS login URL for the given service callback URL
func (c *Client) LoginURL(service string, renew bool, gateway bool) (string, error) {
	u, err := c.endpoint("login")
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Add("service", service)
	if renew {
		q.Add("renew", "true")
	}
	if gateway {
		q.Add("gateway", "true")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// LogoutURL constructs the CAS logout URL,
// optionally with a URL the server should offer to return the user to
func (c *Client) LogoutURL(returnURL string) (string, error) {
	u, err := c.endpoint("logout")
	if err != nil {
		return "", err
	}

	if returnURL != "" {
		q := u.Query()
		q.Add("service", returnURL)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// ValidateTicket sends a serviceValidate request for a service ticket
// issued against the given service URL
func (c *Client) ValidateTicket(ctx context.Context, service *url.URL, ticket string) (*ValidationOutcome, error) {
	return c.validate(ctx, "serviceValidate", service, ticket)
}

// ValidateProxyTicket sends a proxyValidate request for a proxy ticket
// presented by an upstream application
func (c *Client) ValidateProxyTicket(ctx context.Context, service *url.URL, ticket string) (*ValidationOutcome, error) {
	return c.validate(ctx, "proxyValidate", service, ticket)
}

func (c *Client) validate(ctx context.Context, endpointName string, service *url.URL, ticket string) (*ValidationOutcome, error) {
	validateURL, err := c.endpoint(endpointName)
	if err != nil {
		return nil, err
	}

	q := validateURL.Query()
	q.Add("ticket", ticket)
	q.Add("service", service.String())
	if c.pgtCallbackURL != "" {
		q.Add("pgtUrl", c.pgtCallbackURL)
	}
	validateURL.RawQuery = q.Encode()

	c.logger.Debug().
		Str("service", service.String()).
		Str("endpoint", endpointName).
		Msg("validating CAS ticket")

	req, err := http.NewRequest(http.MethodGet, validateURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not reach the CAS server for ticket validation")
	}
	defer res.Body.Close()

	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "could not read the CAS validation response")
	}

	if res.StatusCode != http.StatusOK {
		return nil, NewValidationError("",
			fmt.Sprintf("CAS server returned status %d", res.StatusCode))
	}

	return ParseServiceResponse(body)
}

// proxyTicketResponse is the JSON shape the PGT callback listener answers
// proxy-ticket requests with
type proxyTicketResponse struct {
	Ticket string `json:"ticket"`
}

// ProxyTicket exchanges a PGTIOU for a proxy ticket scoped to targetService
// through the PGT callback listener
func (c *Client) ProxyTicket(ctx context.Context, pgtIOU string, targetService string) (string, error) {
	if c.pgtServerURL == nil {
		return "", NewConfigurationError("PGT server URL")
	}

	u, err := c.pgtServerURL.Parse(path.Join(c.pgtServerURL.Path, "proxyTicket"))
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Add("pgtIou", pgtIOU)
	q.Add("targetService", targetService)
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "could not reach the PGT server for a proxy ticket")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", NewValidationError("",
			fmt.Sprintf("PGT server returned status %d", res.StatusCode))
	}

	var response proxyTicketResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return "", errors.Wrap(err, "could not parse the PGT server response")
	}

	return response.Ticket, nil
}
