package mafather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStore_Empty(t *testing.T) {
	s := NewCredentialStore()

	_, ok := s.Get()
	assert.False(t, ok)
	assert.Empty(t, s.AccessToken())
	assert.Empty(t, s.RefreshToken())
}

func TestCredentialStore_SetAndGet(t *testing.T) {
	s := NewCredentialStore()
	s.Set(Credential{
		AccessToken:  "a1",
		RefreshToken: "r1",
		Identity:     UserIdentity{"id": "u-1", "email": "dad@example.com"},
	})

	cred, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, "a1", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken)
	assert.Equal(t, "u-1", cred.Identity.ID())
	assert.True(t, cred.ExpiresAt.IsZero(), "opaque token has no expiry")

	// Callers get a copy.
	cred.Identity["email"] = "changed@example.com"
	again, _ := s.Get()
	assert.Equal(t, "dad@example.com", again.Identity.Email())
}

func TestCredentialStore_ExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	s := NewCredentialStore()
	s.Set(Credential{AccessToken: makeJWT(t, exp), RefreshToken: "r1"})

	cred, _ := s.Get()
	assert.True(t, cred.ExpiresAt.Equal(exp), "got %s want %s", cred.ExpiresAt, exp)

	explicit := time.Now().Add(time.Minute)
	s.Set(Credential{AccessToken: makeJWT(t, exp), ExpiresAt: explicit})
	cred, _ = s.Get()
	assert.True(t, cred.ExpiresAt.Equal(explicit), "explicit expiry wins")
}

func TestCredentialStore_SetTokens(t *testing.T) {
	s := NewCredentialStore()
	s.Set(Credential{AccessToken: "a1", RefreshToken: "r1", Identity: UserIdentity{"id": "u-1"}})

	s.SetTokens("a2", "")
	cred, _ := s.Get()
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken, "empty refresh keeps the old one")
	assert.Equal(t, "u-1", cred.Identity.ID(), "identity survives a token swap")

	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	s.SetTokens(makeJWT(t, exp), "r2")
	cred, _ = s.Get()
	assert.Equal(t, "r2", cred.RefreshToken)
	assert.True(t, cred.ExpiresAt.Equal(exp))
}

func TestCredentialStore_ClearIsIdempotent(t *testing.T) {
	s := storeWith("a1", "r1")

	var events []bool
	s.OnChange(func(_ Credential, ok bool) { events = append(events, ok) })

	s.Clear()
	s.Clear()

	_, ok := s.Get()
	assert.False(t, ok)
	assert.Empty(t, s.RefreshToken())
	assert.Equal(t, []bool{false}, events, "second clear does not notify")
}

func TestCredentialStore_UpdateIdentity(t *testing.T) {
	t.Run("merges into existing identity", func(t *testing.T) {
		s := NewCredentialStore()
		s.Set(Credential{AccessToken: "a1", Identity: UserIdentity{"id": "u-1", "email": "old@example.com"}})

		s.UpdateIdentity(map[string]any{"email": "new@example.com", "nickname": "dad"})

		cred, _ := s.Get()
		assert.Equal(t, "a1", cred.AccessToken)
		assert.Equal(t, "u-1", cred.Identity.ID())
		assert.Equal(t, "new@example.com", cred.Identity.Email())
		assert.Equal(t, "dad", cred.Identity["nickname"])
	})

	t.Run("no-op without credential", func(t *testing.T) {
		s := NewCredentialStore()
		s.UpdateIdentity(map[string]any{"id": "u-1"})
		_, ok := s.Get()
		assert.False(t, ok)
	})
}

func TestCredentialStore_OnChange(t *testing.T) {
	s := NewCredentialStore()

	var seen []string
	s.OnChange(func(c Credential, ok bool) {
		if !ok {
			seen = append(seen, "cleared")
			return
		}
		seen = append(seen, c.AccessToken)
	})

	s.Set(Credential{AccessToken: "a1", RefreshToken: "r1"})
	s.SetTokens("a2", "")
	s.UpdateIdentity(map[string]any{"id": "u-1"})
	s.Clear()

	assert.Equal(t, []string{"a1", "a2", "a2", "cleared"}, seen)
}

func TestUserIdentity_Decode(t *testing.T) {
	id := UserIdentity{"id": 42, "email": "dad@example.com", "children": []any{"a", "b"}}

	var out struct {
		ID       string   `json:"id"`
		Email    string   `json:"email"`
		Children []string `json:"children"`
	}
	require.NoError(t, id.Decode(&out))
	assert.Equal(t, "42", out.ID)
	assert.Equal(t, "dad@example.com", out.Email)
	assert.Equal(t, []string{"a", "b"}, out.Children)
	assert.Equal(t, "42", id.ID())
}
