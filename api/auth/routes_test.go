package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	jwtManager "github.com/campusweb/sso-portal-api/auth"
	"github.com/campusweb/sso-portal-api/cas"
	"github.com/campusweb/sso-portal-api/session/memory"
)

type stubValidator struct {
	outcome *cas.ValidationOutcome
	err     error
}

func (s *stubValidator) ValidateTicket(ctx context.Context, service *url.URL,
	ticket string) (*cas.ValidationOutcome, error) {
	return s.outcome, s.err
}

func newTestRouter(t *testing.T, validator cas.TicketValidator) http.Handler {
	t.Helper()

	encoded := base64.StdEncoding.EncodeToString([]byte("test-signing-key"))
	os.Setenv("AUTH_JWT_SECRET", encoded)
	t.Cleanup(func() {
		os.Unsetenv("AUTH_JWT_SECRET")
	})

	store := memory.NewProvider(time.Hour, time.Hour, false)
	authenticator, err := cas.NewAuthenticator(cas.Config{
		BaseURL:   "https://sso.example.com/cas",
		Validator: validator,
		Store:     store,
		Verify: func(username string, profile *cas.Profile) (interface{}, string, error) {
			return profile, "", nil
		},
	})
	if err != nil {
		t.Fatalf("could not create authenticator: %v", err)
	}

	manager, err := jwtManager.NewJWTManager()
	if err != nil {
		t.Fatalf("could not create JWT manager: %v", err)
	}

	broker := cas.NewProxyTicketBroker(store, authenticator.SessionKey(),
		authenticator.Client())

	return Routes(authenticator, broker, manager)
}

func TestLoginRedirectsWithoutTicket(t *testing.T) {
	router := newTestRouter(t, &stubValidator{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://portal.example.com/login", nil)
	router.ServeHTTP(w, r)

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("login returned status %d, expected %d",
			w.Code, http.StatusTemporaryRedirect)
	}

	location := w.Header().Get("Location")
	if !strings.HasPrefix(location, "https://sso.example.com/cas/login?service=") {
		t.Errorf("login redirected to %q, expected the CAS login page", location)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	router := newTestRouter(t, &stubValidator{
		outcome: &cas.ValidationOutcome{
			Username: "jdoe3",
			Attributes: map[string]interface{}{
				"displayName": "Jane Doe",
			},
		},
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET",
		"http://portal.example.com/login?ticket=ST-12345", nil)
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("login returned status %d, expected %d: %s",
			w.Code, http.StatusOK, w.Body.String())
	}

	var response TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if response.Token == "" {
		t.Error("response has an empty token")
	}
	if response.Session.Username != "jdoe3" {
		t.Errorf("session username is %q, expected %q",
			response.Session.Username, "jdoe3")
	}
	if response.Profile == nil || response.Profile.DisplayName != "Jane Doe" {
		t.Errorf("profile display name was not mapped: %+v", response.Profile)
	}
}

func TestLoginRejectsBadTicket(t *testing.T) {
	router := newTestRouter(t, &stubValidator{
		err: cas.NewValidationError("INVALID_TICKET", "Ticket ST-12345 not recognized"),
	})

	// A retry marker from the current window means the retry was already spent
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET",
		"http://portal.example.com/login?ticket=ST-12345&"+
			cas.RetryParameter+"="+currentWindow(), nil)
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("login returned status %d, expected %d",
			w.Code, http.StatusUnauthorized)
	}
}

func currentWindow() string {
	return strconv.FormatInt(cas.WindowToken(), 10)
}

func TestLogoutRedirects(t *testing.T) {
	router := newTestRouter(t, &stubValidator{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET",
		"http://portal.example.com/logout?redirect_uri=https%3A%2F%2Fportal.example.com%2F",
		nil)
	router.ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("logout returned status %d, expected %d", w.Code, http.StatusFound)
	}

	location := w.Header().Get("Location")
	if !strings.HasPrefix(location, "https://sso.example.com/cas/logout") {
		t.Errorf("logout redirected to %q, expected the CAS logout page", location)
	}
}

func TestSessionWithIssuedToken(t *testing.T) {
	router := newTestRouter(t, &stubValidator{
		outcome: &cas.ValidationOutcome{
			Username: "jdoe3",
			Attributes: map[string]interface{}{
				"displayName": "Jane Doe",
			},
		},
	})

	login := httptest.NewRecorder()
	router.ServeHTTP(login, httptest.NewRequest("GET",
		"http://portal.example.com/login?ticket=ST-12345", nil))
	if login.Code != http.StatusOK {
		t.Fatalf("login returned status %d, expected %d: %s",
			login.Code, http.StatusOK, login.Body.String())
	}

	var issued TokenResponse
	if err := json.Unmarshal(login.Body.Bytes(), &issued); err != nil {
		t.Fatalf("could not decode login response: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://portal.example.com/session", nil)
	r.Header.Set("Authorization", "Bearer "+issued.Token)
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("session returned status %d for a freshly issued token, expected %d: %s",
			w.Code, http.StatusOK, w.Body.String())
	}

	var response SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("could not decode session response: %v", err)
	}
	if response.Session.Username != "jdoe3" {
		t.Errorf("session username is %q, expected %q",
			response.Session.Username, "jdoe3")
	}
	if response.Session.DisplayName != "Jane Doe" {
		t.Errorf("session display name is %q, expected %q",
			response.Session.DisplayName, "Jane Doe")
	}
}

func TestProxyTicketWithIssuedToken(t *testing.T) {
	router := newTestRouter(t, &stubValidator{
		outcome: &cas.ValidationOutcome{Username: "jdoe3"},
	})

	login := httptest.NewRecorder()
	router.ServeHTTP(login, httptest.NewRequest("GET",
		"http://portal.example.com/login?ticket=ST-12345", nil))
	if login.Code != http.StatusOK {
		t.Fatalf("login returned status %d, expected %d: %s",
			login.Code, http.StatusOK, login.Body.String())
	}

	var issued TokenResponse
	if err := json.Unmarshal(login.Body.Bytes(), &issued); err != nil {
		t.Fatalf("could not decode login response: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET",
		"http://portal.example.com/proxy-ticket?target=https%3A%2F%2Fbackend.example.com",
		nil)
	r.Header.Set("Authorization", "Bearer "+issued.Token)
	for _, cookie := range login.Result().Cookies() {
		r.AddCookie(cookie)
	}
	router.ServeHTTP(w, r)

	// The login was validated without a PGT callback, so the broker
	// answers that the session carries no grant
	if w.Code != http.StatusForbidden {
		t.Errorf("proxy-ticket returned status %d, expected %d: %s",
			w.Code, http.StatusForbidden, w.Body.String())
	}
}

func TestProxyTicketRequiresTarget(t *testing.T) {
	router := newTestRouter(t, &stubValidator{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "http://portal.example.com/proxy-ticket", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(w, r)

	// The invalid token is rejected before the missing target is noticed
	if w.Code != http.StatusUnauthorized {
		t.Errorf("proxy-ticket returned status %d, expected %d",
			w.Code, http.StatusUnauthorized)
	}
}
