package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/logging"
	"github.com/tupa/internal/session"
	"github.com/tupa/pkg/models"
)

const credentialPrefix = "cred:"

// Options configures a Provider
type Options struct {
	GuestName           string
	AllowedEmailDomains []string
	BcryptCost          int
}

// RegisterRequest carries the registration form
type RegisterRequest struct {
	Name         string
	Email        string
	Password     string
	Confirmation string
	AvatarRef    string
}

// credential is the record persisted per registered email
type credential struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	AvatarRef    string    `json:"avatar_ref"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Provider resolves the acting identity. It is the only writer of the
// session's identity slots.
type Provider struct {
	mu     sync.Mutex
	store  session.Store
	opts   Options
	logger zerolog.Logger

	deviceToken string
	active      *models.Identity
}

// NewProvider creates a provider backed by the session store
func NewProvider(store session.Store, opts Options, logger zerolog.Logger) *Provider {
	if opts.GuestName == "" {
		opts.GuestName = "Visitante"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Provider{
		store:  store,
		opts:   opts,
		logger: logging.Component(logger, "identity"),
	}
}

// Resolve returns the active identity: the authenticated profile when one is
// stored, otherwise the device's anonymous token (minted on first use).
func (p *Provider) Resolve() (models.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		return *p.active, nil
	}

	raw, ok, err := p.store.Get(session.SlotActiveProfile)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to read active profile: %w", err)
	}
	if ok {
		var ident models.Identity
		if err := json.Unmarshal(raw, &ident); err == nil && ident.ID != "" {
			p.active = &ident
			return ident, nil
		}
		p.logger.Warn().Msg("Discarding unreadable active profile slot")
	}

	token, err := p.deviceTokenLocked()
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{
		ID:          token,
		DisplayName: p.opts.GuestName,
		Kind:        models.IdentityAnonymous,
	}, nil
}

// DeviceToken returns the anonymous per-device token, minting it if needed
func (p *Provider) DeviceToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceTokenLocked()
}

func (p *Provider) deviceTokenLocked() (string, error) {
	if p.deviceToken != "" {
		return p.deviceToken, nil
	}
	raw, ok, err := p.store.Get(session.SlotDeviceToken)
	if err != nil {
		return "", fmt.Errorf("failed to read device token: %w", err)
	}
	if ok && len(raw) > 0 {
		p.deviceToken = string(raw)
		return p.deviceToken, nil
	}

	token := "anon_" + strings.ToLower(ulid.Make().String())
	if err := p.store.Put(session.SlotDeviceToken, []byte(token)); err != nil {
		return "", fmt.Errorf("failed to persist device token: %w", err)
	}
	p.deviceToken = token
	p.logger.Debug().Str("token", token).Msg("Minted device token")
	return token, nil
}

// Register validates the form, stores a hashed credential keyed by email and
// activates the new profile.
func (p *Provider) Register(req RegisterRequest) (models.Identity, error) {
	email := normalizeEmail(req.Email)

	verr := &apperr.ValidationError{}
	if strings.TrimSpace(req.Name) == "" {
		verr.Add("name", "required")
	}
	if email == "" {
		verr.Add("email", "required")
	} else if !p.domainAllowed(email) {
		verr.Add("email", "email domain is not accepted")
	}
	if req.Password == "" {
		verr.Add("password", "required")
	}
	if req.Confirmation == "" {
		verr.Add("confirmation", "required")
	} else if req.Password != req.Confirmation {
		verr.Add("confirmation", "passwords do not match")
	}
	if strings.TrimSpace(req.AvatarRef) == "" {
		verr.Add("avatar", "required")
	}
	if err := verr.OrNil(); err != nil {
		return models.Identity{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok, err := p.store.Get(credentialPrefix + email); err != nil {
		return models.Identity{}, fmt.Errorf("failed to check credential: %w", err)
	} else if ok {
		return models.Identity{}, apperr.Invalid("email", "already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), p.opts.BcryptCost)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := credential{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		AvatarRef:    req.AvatarRef,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return models.Identity{}, err
	}
	if err := p.store.Put(credentialPrefix+email, raw); err != nil {
		return models.Identity{}, fmt.Errorf("failed to store credential: %w", err)
	}

	ident := cred.identity()
	if err := p.activateLocked(ident); err != nil {
		return models.Identity{}, err
	}
	p.logger.Info().Str("id", ident.ID).Msg("Registered profile")
	return ident, nil
}

// Login activates the profile registered for email
func (p *Provider) Login(email, password string) (models.Identity, error) {
	email = normalizeEmail(email)

	p.mu.Lock()
	defer p.mu.Unlock()

	raw, ok, err := p.store.Get(credentialPrefix + email)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to read credential: %w", err)
	}
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: no account for %s", apperr.ErrNotFound, email)
	}

	var cred credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return models.Identity{}, fmt.Errorf("failed to decode credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return models.Identity{}, fmt.Errorf("%w: wrong password", apperr.ErrAuth)
		}
		return models.Identity{}, fmt.Errorf("%w: %v", apperr.ErrAuth, err)
	}

	ident := cred.identity()
	if err := p.activateLocked(ident); err != nil {
		return models.Identity{}, err
	}
	p.logger.Info().Str("id", ident.ID).Msg("Logged in")
	return ident, nil
}

// Logout clears the authenticated profile. The device token is kept.
func (p *Provider) Logout() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = nil
	if err := p.store.Delete(session.SlotActiveProfile); err != nil {
		return fmt.Errorf("failed to clear active profile: %w", err)
	}
	return nil
}

// OwnerRefs lists every creator ref the acting user owns: the active id and,
// when different, the device token records were authored under before login.
func (p *Provider) OwnerRefs() ([]string, error) {
	ident, err := p.Resolve()
	if err != nil {
		return nil, err
	}
	token, err := p.DeviceToken()
	if err != nil {
		return nil, err
	}
	if ident.ID == token {
		return []string{token}, nil
	}
	return []string{ident.ID, token}, nil
}

func (p *Provider) activateLocked(ident models.Identity) error {
	raw, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	if err := p.store.Put(session.SlotActiveProfile, raw); err != nil {
		return fmt.Errorf("failed to persist active profile: %w", err)
	}
	p.active = &ident
	return nil
}

func (p *Provider) domainAllowed(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	for _, d := range p.opts.AllowedEmailDomains {
		if strings.EqualFold(domain, strings.TrimSpace(d)) {
			return true
		}
	}
	return false
}

func (c credential) identity() models.Identity {
	name := c.Name
	if name == "" {
		name = strings.SplitN(c.Email, "@", 2)[0]
	}
	return models.Identity{
		ID:          c.ID,
		DisplayName: name,
		Email:       c.Email,
		AvatarRef:   c.AvatarRef,
		Kind:        models.IdentityAuthenticated,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
