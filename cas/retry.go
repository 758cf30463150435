package cas

import (
	"net/http"
	"strconv"
	"time"
)

// RetryParameter marks a request that already went through one automatic
// re-attempt of the handshake after a failed ticket validation
const RetryParameter = "_cas_retry"

// WindowToken returns the current wall-clock minute.
// A stale-ticket retry is allowed once per window, which breaks redirect
// loops between the app and the CAS server while still absorbing the common
// case of a page reload with an expired ticket in the address bar
func WindowToken() int64 {
	return time.Now().Unix() / 60
}

// HasRetried reports whether the request was already retried in the
// minute window identified by token
func HasRetried(r *http.Request, token int64) bool {
	return r.URL.Query().Get(RetryParameter) == strconv.FormatInt(token, 10)
}
