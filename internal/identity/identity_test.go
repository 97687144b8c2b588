package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver() *Resolver {
	return NewResolver(NewCookieStore([]byte("0123456789abcdef0123456789abcdef"), false))
}

// carry copies cookies set on rec into a fresh request.
func carry(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("first contact creates a guest", func(t *testing.T) {
		r := newResolver()
		rec := httptest.NewRecorder()

		id, err := r.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.True(t, id.IsGuest())
		assert.NotEmpty(t, id.ID)
		assert.NotEmpty(t, rec.Header().Get("Set-Cookie"))
	})

	t.Run("guest id is stable across requests", func(t *testing.T) {
		r := newResolver()
		rec := httptest.NewRecorder()
		first, err := r.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)

		second, err := r.Resolve(httptest.NewRecorder(), carry(rec))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("login wins over guest", func(t *testing.T) {
		r := newResolver()
		rec := httptest.NewRecorder()
		require.NoError(t, r.Login(rec, httptest.NewRequest(http.MethodPost, "/", nil), "alice"))

		id, err := r.Resolve(httptest.NewRecorder(), carry(rec))
		require.NoError(t, err)
		assert.Equal(t, Identity{Kind: Registered, ID: "alice"}, id)
		assert.Equal(t, "registered:alice", id.String())
	})

	t.Run("logout returns to a new guest", func(t *testing.T) {
		r := newResolver()
		login := httptest.NewRecorder()
		require.NoError(t, r.Login(login, httptest.NewRequest(http.MethodPost, "/", nil), "alice"))

		logout := httptest.NewRecorder()
		require.NoError(t, r.Logout(logout, carry(login)))

		id, err := r.Resolve(httptest.NewRecorder(), carry(logout))
		require.NoError(t, err)
		assert.True(t, id.IsGuest())
	})

	t.Run("tampered cookie starts over as guest", func(t *testing.T) {
		r := newResolver()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionName, Value: "garbage"})

		id, err := r.Resolve(httptest.NewRecorder(), req)
		require.NoError(t, err)
		assert.True(t, id.IsGuest())
	})
}

func TestResolver_ResolveForUpgrade(t *testing.T) {
	r := newResolver()
	r.newID = func() string { return "fixed-guest" }

	id, header, err := r.ResolveForUpgrade(httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, Identity{Kind: Guest, ID: "fixed-guest"}, id)
	assert.Contains(t, header.Get("Set-Cookie"), SessionName+"=")
}
