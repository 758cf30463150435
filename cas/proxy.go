package cas

import "net/http"

// ProxyTicketBroker requests proxy tickets for third-party services on
// behalf of an authenticated user, using the proxy-granting ticket IOU
// captured during login. It is decoupled from the main handshake
type ProxyTicketBroker struct {
	store      SessionStore
	sessionKey string
	exchanger  ProxyTicketExchanger
}

// NewProxyTicketBroker constructs a new ProxyTicketBroker
func NewProxyTicketBroker(store SessionStore, sessionKey string, exchanger ProxyTicketExchanger) *ProxyTicketBroker {
	if sessionKey == "" {
		sessionKey = DefaultSessionKey
	}

	return &ProxyTicketBroker{
		store:      store,
		sessionKey: sessionKey,
		exchanger:  exchanger,
	}
}

// RequestProxyTicket returns an opaque proxy ticket for targetService that
// the caller appends to its own request. The exchange is never attempted
// unless the session carries a proxy grant
func (b *ProxyTicketBroker) RequestProxyTicket(r *http.Request, targetService string) (string, error) {
	if b.store == nil {
		return "", NewNoSessionError()
	}

	record, err := b.store.Get(r, b.sessionKey)
	if err != nil || record == nil {
		return "", NewNotAuthenticatedError()
	}

	if record.PGTIOU == "" {
		return "", NewMissingProxyGrantError()
	}

	return b.exchanger.ProxyTicket(r.Context(), record.PGTIOU, targetService)
}
