package mongo

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/campusweb/sso-portal-api/cas"
	"github.com/campusweb/sso-portal-api/env"
)

// CookieName is the cookie that carries the opaque session identifier
const CookieName = "portal_session"

// Provider is a MongoDB-backed cas.SessionStore,
// used so sessions survive restarts and are shared between replicas
type Provider struct {
	connectionURI string
	databaseName  string
	ttl           time.Duration
	secureCookies bool
	client        *mongo.Client
}

// sessionDocument is the stored shape of one record under one session
type sessionDocument struct {
	SessionID string     `bson:"session_id"`
	Key       string     `bson:"key"`
	Record    cas.Record `bson:"record"`
	CreatedAt time.Time  `bson:"created_at"`
}

// NewProvider creates a new provider and loads values in from the environment
func NewProvider(secureCookies bool) (*Provider, error) {
	connectionURI, err := env.GetEnv("database connection URI", "MONGO_DB_URI")
	if err != nil {
		return nil, err
	}

	databaseName, err := env.GetEnv("database name", "MONGO_DB_NAME")
	if err != nil {
		return nil, err
	}

	ttl, err := env.GetDurationEnv("session TTL", "SESSION_TTL")
	if err != nil {
		return nil, err
	}

	return &Provider{
		connectionURI: connectionURI,
		databaseName:  databaseName,
		ttl:           ttl,
		secureCookies: secureCookies,
		client:        nil,
	}, nil
}

// TTL returns the configured session lifetime
func (p *Provider) TTL() time.Duration {
	return p.ttl
}

// Connect opens the client and prepares the session collection
func (p *Provider) Connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(p.connectionURI))
	if err != nil {
		return errors.Wrap(err, "could not connect to the session database")
	}

	// Ping the primary
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return errors.Wrap(err, "could not ping the session database")
	}

	p.client = client

	return p.initialize(ctx)
}

// Disconnect closes the client
func (p *Provider) Disconnect(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

// Create anything needed for the collection:
// one lookup index and a TTL index so stale sessions disappear on their own
func (p *Provider) initialize(ctx context.Context) error {
	_, err := p.sessions().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "key", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.M{"created_at": 1},
			Options: options.Index().
				SetExpireAfterSeconds(int32(p.ttl / time.Second)),
		},
	})
	if err != nil {
		return errors.Wrap(err, "could not initialize the session collection")
	}

	return nil
}

func (p *Provider) sessions() *mongo.Collection {
	return p.client.Database(p.databaseName).Collection("sessions")
}

// Get reads the record stored under key for the request's session,
// or nil when the request carries no live session
func (p *Provider) Get(r *http.Request, key string) (*cas.Record, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, nil
	}

	var document sessionDocument
	err = p.sessions().
		FindOne(r.Context(), bson.M{"session_id": cookie.Value, "key": key}).
		Decode(&document)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not read the session record")
	}

	return &document.Record, nil
}

// Set stores the record under key, creating a session (and its cookie)
// if the request doesn't already carry one
func (p *Provider) Set(w http.ResponseWriter, r *http.Request, key string, record *cas.Record) error {
	sessionID := ""
	if cookie, err := r.Cookie(CookieName); err == nil {
		sessionID = cookie.Value
	}
	if sessionID == "" {
		id, err := ksuid.NewRandom()
		if err != nil {
			return err
		}
		sessionID = id.String()
	}

	filter := bson.M{"session_id": sessionID, "key": key}
	update := bson.M{"$set": sessionDocument{
		SessionID: sessionID,
		Key:       key,
		Record:    *record,
		CreatedAt: time.Now(),
	}}
	_, err := p.sessions().
		UpdateOne(r.Context(), filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrap(err, "could not write the session record")
	}

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

	_, err = p.sessions().
		DeleteOne(r.Context(), bson.M{"session_id": cookie.Value, "key": key})
	if err != nil {
		return errors.Wrap(err, "could not delete the session record")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})

	return nil
}
