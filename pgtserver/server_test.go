package pgtserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const proxySuccessResponse = `<cas:serviceResponse xmlns:cas="http://www.yale.edu/tp/cas">
  <cas:proxySuccess>
    <cas:proxyTicket>PT-1856392-b98xZrQN4p90ASrw96c8</cas:proxyTicket>
  </cas:proxySuccess>
</cas:serviceResponse>`

func newTestServer(t *testing.T, casBaseURL string) *Server {
	t.Helper()
	server, err := NewServer(Config{CASBaseURL: casBaseURL})
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}
	return server
}

func TestCallbackProbe(t *testing.T) {
	server := newTestServer(t, "https://sso.example.com/cas")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/pgtCallback", nil)
	server.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("probe returned status %d, expected %d", w.Code, http.StatusOK)
	}
}

func TestCallbackStoresGrant(t *testing.T) {
	server := newTestServer(t, "https://sso.example.com/cas")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET",
		"/pgtCallback?pgtIou=PGTIOU-84678-8a9d&pgtId=TGT-2345678", nil)
	server.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("callback returned status %d, expected %d", w.Code, http.StatusOK)
	}

	pgt, ok := server.store.Get("PGTIOU-84678-8a9d")
	if !ok {
		t.Fatal("grant was not stored")
	}
	if pgt != "TGT-2345678" {
		t.Errorf("stored grant is %q, expected %q", pgt, "TGT-2345678")
	}
}

func TestIssueProxyTicket(t *testing.T) {
	casServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/cas/proxy" {
				t.Errorf("CAS server hit at %q, expected %q", r.URL.Path, "/cas/proxy")
			}
			if got := r.URL.Query().Get("pgt"); got != "TGT-2345678" {
				t.Errorf("pgt parameter is %q, expected %q", got, "TGT-2345678")
			}
			if got := r.URL.Query().Get("targetService"); got != "https://backend.example.com/api" {
				t.Errorf("targetService parameter is %q, expected %q",
					got, "https://backend.example.com/api")
			}
			w.Write([]byte(proxySuccessResponse))
		}))
	defer casServer.Close()

	server := newTestServer(t, casServer.URL+"/cas")
	server.store.Put("PGTIOU-84678-8a9d", "TGT-2345678")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET",
		"/proxyTicket?pgtIou=PGTIOU-84678-8a9d&targetService="+
			"https%3A%2F%2Fbackend.example.com%2Fapi", nil)
	server.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("exchange returned status %d, expected %d: %s",
			w.Code, http.StatusOK, w.Body.String())
	}

	var response proxyTicketResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if response.Ticket != "PT-1856392-b98xZrQN4p90ASrw96c8" {
		t.Errorf("ticket is %q, expected %q",
			response.Ticket, "PT-1856392-b98xZrQN4p90ASrw96c8")
	}
}

func TestIssueProxyTicketUnknownGrant(t *testing.T) {
	server := newTestServer(t, "https://sso.example.com/cas")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET",
		"/proxyTicket?pgtIou=PGTIOU-unknown&targetService=https%3A%2F%2Fb.example.com", nil)
	server.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown grant returned status %d, expected %d",
			w.Code, http.StatusNotFound)
	}
}

func TestIssueProxyTicketMissingParams(t *testing.T) {
	server := newTestServer(t, "https://sso.example.com/cas")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/proxyTicket?pgtIou=PGTIOU-84678-8a9d", nil)
	server.Routes().ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("missing params returned status %d, expected %d",
			w.Code, http.StatusBadRequest)
	}
}
