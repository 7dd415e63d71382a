package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/session"
	"github.com/tupa/pkg/models"
)

func newTestProvider(store session.Store) *Provider {
	return NewProvider(store, Options{
		GuestName:           "Visitante",
		AllowedEmailDomains: []string{"gmail.com", "hotmail.com"},
		BcryptCost:          bcrypt.MinCost,
	}, zerolog.Nop())
}

func validRequest() RegisterRequest {
	return RegisterRequest{
		Name:         "Ana",
		Email:        "Ana@Gmail.com",
		Password:     "segredo1",
		Confirmation: "segredo1",
		AvatarRef:    "data:image/png;base64,AAAA",
	}
}

func TestResolveMintsAndPersistsDeviceToken(t *testing.T) {
	store := session.NewMemoryStore()
	p := newTestProvider(store)

	first, err := p.Resolve()
	require.NoError(t, err)
	assert.Equal(t, models.IdentityAnonymous, first.Kind)
	assert.Equal(t, "Visitante", first.DisplayName)
	assert.True(t, strings.HasPrefix(first.ID, "anon_"))

	// a new provider over the same store sees the same token
	again, err := newTestProvider(store).Resolve()
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestRegisterActivatesProfile(t *testing.T) {
	store := session.NewMemoryStore()
	p := newTestProvider(store)

	ident, err := p.Register(validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.IdentityAuthenticated, ident.Kind)
	assert.Equal(t, "ana@gmail.com", ident.Email)
	assert.Equal(t, "Ana", ident.DisplayName)

	resolved, err := p.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ident, resolved)

	// restored on reload
	reloaded, err := newTestProvider(store).Resolve()
	require.NoError(t, err)
	assert.Equal(t, ident.ID, reloaded.ID)

	raw, ok, err := store.Get(credentialPrefix + "ana@gmail.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "segredo1", "password must be hashed")
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
		field  string
	}{
		{"missing name", func(r *RegisterRequest) { r.Name = " " }, "name"},
		{"missing email", func(r *RegisterRequest) { r.Email = "" }, "email"},
		{"domain not allowed", func(r *RegisterRequest) { r.Email = "ana@example.org" }, "email"},
		{"missing password", func(r *RegisterRequest) { r.Password = "" }, "password"},
		{"missing confirmation", func(r *RegisterRequest) { r.Confirmation = "" }, "confirmation"},
		{"mismatch", func(r *RegisterRequest) { r.Confirmation = "other" }, "confirmation"},
		{"missing avatar", func(r *RegisterRequest) { r.AvatarRef = "" }, "avatar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewMemoryStore()
			p := newTestProvider(store)
			before, err := p.Resolve()
			require.NoError(t, err)

			req := validRequest()
			tt.mutate(&req)
			_, err = p.Register(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))

			var verr *apperr.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tt.field)

			_, ok, err := store.Get(credentialPrefix + "ana@gmail.com")
			require.NoError(t, err)
			assert.False(t, ok, "no credential record on failure")

			after, err := p.Resolve()
			require.NoError(t, err)
			assert.Equal(t, before, after, "active identity unchanged")
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	p := newTestProvider(session.NewMemoryStore())
	_, err := p.Register(validRequest())
	require.NoError(t, err)

	_, err = p.Register(validRequest())
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestLoginAndLogout(t *testing.T) {
	store := session.NewMemoryStore()
	p := newTestProvider(store)

	anon, err := p.Resolve()
	require.NoError(t, err)

	registered, err := p.Register(validRequest())
	require.NoError(t, err)
	require.NoError(t, p.Logout())

	back, err := p.Resolve()
	require.NoError(t, err)
	assert.Equal(t, anon.ID, back.ID, "logout falls back to the device token")

	_, err = p.Login("nobody@gmail.com", "x")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = p.Login("ana@gmail.com", "wrong")
	assert.True(t, errors.Is(err, apperr.ErrAuth))

	ident, err := p.Login(" ANA@gmail.com ", "segredo1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, ident.ID)

	refs, err := p.OwnerRefs()
	require.NoError(t, err)
	assert.Equal(t, []string{registered.ID, anon.ID}, refs)
}
