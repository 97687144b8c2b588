// Package identity resolves who is behind a request: a registered user or
// a guest tracked by a cookie session.
package identity

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// SessionName is the cookie session holding the identity.
const SessionName = "handsign"

const (
	keyUsername = "username"
	keyGuestID  = "guest_id"
)

// ErrNoSession is returned when the session cookie cannot be read or saved.
var ErrNoSession = errors.New("identity: session unavailable")

// Kind distinguishes registered users from guests.
type Kind int

const (
	Guest Kind = iota
	Registered
)

func (k Kind) String() string {
	if k == Registered {
		return "registered"
	}
	return "guest"
}

// Identity is exactly one registered user (ID is the username) or one guest
// (ID is a generated uuid).
type Identity struct {
	Kind Kind
	ID   string
}

// IsGuest reports whether the identity is a guest.
func (i Identity) IsGuest() bool { return i.Kind == Guest }

func (i Identity) String() string {
	return i.Kind.String() + ":" + i.ID
}

// NewCookieStore builds the signed cookie store used for identity sessions.
func NewCookieStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Resolver maps requests to identities.
type Resolver struct {
	store sessions.Store
	newID func() string
}

// NewResolver returns a Resolver over store.
func NewResolver(store sessions.Store) *Resolver {
	return &Resolver{store: store, newID: uuid.NewString}
}

func (r *Resolver) session(req *http.Request) (*sessions.Session, error) {
	s, err := r.store.Get(req, SessionName)
	if err != nil && s == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	// a cookie signed with an old secret yields a fresh session and an error
	return s, nil
}

// Resolve returns the logged-in user, else the session's guest, else a new
// guest whose id is saved to the cookie through w.
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request) (Identity, error) {
	s, err := r.session(req)
	if err != nil {
		return Identity{}, err
	}

	if name, ok := s.Values[keyUsername].(string); ok && name != "" {
		return Identity{Kind: Registered, ID: name}, nil
	}
	if id, ok := s.Values[keyGuestID].(string); ok && id != "" {
		return Identity{Kind: Guest, ID: id}, nil
	}

	id := r.newID()
	s.Values[keyGuestID] = id
	if err := s.Save(req, w); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return Identity{Kind: Guest, ID: id}, nil
}

// ResolveForUpgrade resolves req before a protocol upgrade. Any cookie the
// session sets is returned as headers to hand to the upgrader, since the
// hijacked connection never flushes the normal response headers.
func (r *Resolver) ResolveForUpgrade(req *http.Request) (Identity, http.Header, error) {
	rec := &headerRecorder{header: http.Header{}}
	id, err := r.Resolve(rec, req)
	if err != nil {
		return Identity{}, nil, err
	}
	return id, rec.header, nil
}

// Login binds the session to username and drops any guest id.
func (r *Resolver) Login(w http.ResponseWriter, req *http.Request, username string) error {
	s, err := r.session(req)
	if err != nil {
		return err
	}
	s.Values[keyUsername] = username
	delete(s.Values, keyGuestID)
	if err := s.Save(req, w); err != nil {
		return fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return nil
}

// Logout clears the session entirely; the next request becomes a new guest.
func (r *Resolver) Logout(w http.ResponseWriter, req *http.Request) error {
	s, err := r.session(req)
	if err != nil {
		return err
	}
	delete(s.Values, keyUsername)
	delete(s.Values, keyGuestID)
	if err := s.Save(req, w); err != nil {
		return fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return nil
}

type headerRecorder struct {
	header http.Header
}

func (h *headerRecorder) Header() http.Header         { return h.header }
func (h *headerRecorder) Write(b []byte) (int, error) { return len(b), nil }
func (h *headerRecorder) WriteHeader(int)             {}
