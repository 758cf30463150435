package memory

import (
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/campusweb/sso-portal-api/cas"
)

// CookieName is the cookie that carries the opaque session identifier
const CookieName = "portal_session"

// Provider is an in-memory cas.SessionStore. Old sessions are periodically
// evicted so the map stays bounded after abandoned logins
type Provider struct {
	mu            sync.RWMutex
	sessions      map[string]*entry
	ttl           time.Duration
	secureCookies bool
}

type entry struct {
	records   map[string]*cas.Record
	createdAt time.Time
}

// NewProvider creates a new instance of the Provider
// and starts the goroutine that evicts old sessions
func NewProvider(ttl time.Duration, evictionInterval time.Duration, secureCookies bool) *Provider {
	p := &Provider{
		sessions:      map[string]*entry{},
		ttl:           ttl,
		secureCookies: secureCookies,
	}

	go p.evict(evictionInterval)
	return p
}

// Blocking function that periodically evicts old sessions
func (p *Provider) evict(interval time.Duration) {
	for now := range time.Tick(interval) {
		p.mu.Lock()
		for id, e := range p.sessions {
			if now.Sub(e.createdAt) > p.ttl {
				delete(p.sessions, id)
			}
		}
		p.mu.Unlock()
	}
}

// Get reads the record stored under key for the request's session,
// or nil when the request carries no live session
func (p *Provider) Get(r *http.Request, key string) (*cas.Record, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.sessions[cookie.Value]
	if !ok {
		return nil, nil
	}

	return e.records[key], nil
}

// Set stores the record under key, creating a session (and its cookie)
// if the request doesn't already carry one
func (p *Provider) Set(w http.ResponseWriter, r *http.Request, key string, record *cas.Record) error {
	sessionID := ""
	if cookie, err := r.Cookie(CookieName); err == nil {
		sessionID = cookie.Value
	}

	p.mu.Lock()
	e, ok := p.sessions[sessionID]
	if sessionID == "" || !ok {
		id, err := ksuid.NewRandom()
		if err != nil {
			p.mu.Unlock()
			return err
		}

		sessionID = id.String()
		e = &entry{
			records:   map[string]*cas.Record{},
			createdAt: time.Now(),
		}
		p.sessions[sessionID] = e
	}
	e.records[key] = record
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(p.ttl / time.Second),
		HttpOnly: true,
		Secure:   p.secureCookies,
		// Cookie needs to be Lax so it is sent when CAS redirects back
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Delete removes the record under key and expires the session cookie
func (p *Provider) Delete(w http.ResponseWriter, r *http.Request, key string) error {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	if e, ok := p.sessions[cookie.Value]; ok {
		delete(e.records, key)
	}
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})

	return nil
}
