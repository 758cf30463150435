package cas

import (
	"net/http"
	"net/url"
	"strings"
)

// Headers consulted when reconstructing the externally-visible request URL.
// Reverse proxies in front of the app rewrite the request line, so the
// original scheme/host/path arrive in these headers instead
const (
	forwardedProtoHeader    = "X-Forwarded-Proto"
	forwardedHostHeader     = "X-Forwarded-Host"
	proxiedProtocolHeader   = "X-Proxied-Protocol"
	proxiedRequestURIHeader = "X-Proxied-Request-Uri"
)

// ServiceURL determines the absolute callback URL that the CAS server
// redirects back to after login, derived from the inbound request.
// The ticket parameter is stripped so the same URL can be reproduced on the
// validation round-trip; everything else about the query string is preserved
// in its original encoding and order.
// Adapted from the derivation in gopkg.in/cas.v2
func ServiceURL(r *http.Request) (*url.URL, error) {
	u, err := url.Parse(r.URL.String())
	if err != nil {
		return nil, err
	}

	u.Host = r.Host
	if host := r.Header.Get(forwardedHostHeader); host != "" {
		u.Host = host
	}

	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if scheme := r.Header.Get(proxiedProtocolHeader); scheme != "" {
		u.Scheme = scheme
	}
	if scheme := r.Header.Get(forwardedProtoHeader); scheme != "" {
		u.Scheme = scheme
	}

	if uri := r.Header.Get(proxiedRequestURIHeader); uri != "" {
		if proxied, err := url.Parse(uri); err == nil {
			u.Path = proxied.Path
		}
	}

	u.RawQuery = stripQueryParam(u.RawQuery, "ticket")

	return u, nil
}

// stripQueryParam removes every instance of the named parameter from a raw
// query string without re-encoding or re-ordering the remaining parameters
func stripQueryParam(rawQuery string, name string) string {
	if rawQuery == "" {
		return ""
	}

	segments := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment == name || strings.HasPrefix(segment, name+"=") {
			continue
		}
		kept = append(kept, segment)
	}

	return strings.Join(kept, "&")
}
