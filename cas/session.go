package cas

import (
	"net/http"
	"time"
)

// DefaultSessionKey is the key the CAS record is stored under when the
// configuration doesn't override it
const DefaultSessionKey = "cas"

// Record is the per-user state the handshake writes into session storage.
// PGTIOU is only set when a PGT callback URL was configured and the CAS
// server supports proxying
type Record struct {
	Username string    `json:"username" bson:"username"`
	PGTIOU   string    `json:"pgt_iou,omitempty" bson:"pgt_iou,omitempty"`
	IssuedAt time.Time `json:"issued_at" bson:"issued_at"`
}

// SessionStore is the host-owned session persistence contract.
// The handshake only ever reads and writes the single record under its
// configured key; Get returns a nil record (without an error) when the
// request has no session or no record under the key
type SessionStore interface {
	Get(r *http.Request, key string) (*Record, error)
	Set(w http.ResponseWriter, r *http.Request, key string, record *Record) error
	Delete(w http.ResponseWriter, r *http.Request, key string) error
}
