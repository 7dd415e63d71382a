package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/attachment"
	"github.com/tupa/internal/commerce"
	"github.com/tupa/internal/config"
	"github.com/tupa/internal/confirm"
	"github.com/tupa/internal/content"
	"github.com/tupa/internal/geo"
	"github.com/tupa/internal/handoff"
	"github.com/tupa/internal/identity"
	"github.com/tupa/internal/listing"
	"github.com/tupa/internal/logging"
	"github.com/tupa/internal/messaging"
	"github.com/tupa/internal/metrics"
	"github.com/tupa/internal/recordstore"
	"github.com/tupa/internal/retry"
	"github.com/tupa/internal/session"
	"github.com/tupa/pkg/models"
)

// Options overrides collaborators that are normally built from the config
type Options struct {
	Confirmer confirm.Confirmer
	Launcher  handoff.Launcher
	Locator   geo.Locator
	// Session replaces the pebble session database
	Session session.Store
	// Records replaces the configured record store backend
	Records recordstore.Store
}

// Engine holds one client session: the acting identity, the cached
// collections and the workflows built on them.
type Engine struct {
	Config      *config.Config
	Identity    *identity.Provider
	Attachments *attachment.Pipeline
	Messages    *content.Collection[models.Message]
	Events      *content.Collection[models.Event]
	Vendors     *content.Collection[models.Vendor]
	Chat        *messaging.Chat
	Cart        *commerce.Cart
	Checkout    *commerce.Checkout
	Handoff     *handoff.Channel
	Listings    *listing.Workflow
	Poller      *content.Poller
	Metrics     *metrics.Metrics

	records recordstore.Store
	session session.Store
	logger  zerolog.Logger
}

// New builds an engine from cfg
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Engine, error) {
	maxBytes, err := cfg.MaxAttachmentBytes()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if opts.Confirmer == nil {
		opts.Confirmer = confirm.Always(false)
	}
	if opts.Launcher == nil {
		opts.Launcher = handoff.PrintLauncher{Out: os.Stdout}
	}
	if opts.Locator == nil {
		opts.Locator = geo.Unavailable{}
	}

	e := &Engine{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  logging.Component(logger, "engine"),
	}

	e.session = opts.Session
	if e.session == nil {
		pebbleStore, err := session.OpenPebble(cfg.Session.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		e.session = pebbleStore
	}

	e.Identity = identity.NewProvider(e.session, identity.Options{
		GuestName:           cfg.Identity.GuestName,
		AllowedEmailDomains: cfg.Identity.AllowedEmailDomains,
		BcryptCost:          cfg.Identity.BcryptCost,
	}, logger)

	e.records = opts.Records
	if e.records == nil {
		if e.records, err = e.openRecords(ctx); err != nil {
			e.session.Close()
			return nil, err
		}
	}

	e.Attachments = attachment.NewPipeline(maxBytes, cfg.Attachments.Workers, logger)

	e.Messages = content.NewCollection(content.MessageSchema(cfg.Store.MessageWindow),
		e.records.Table(content.CollectionMessages), e.Identity, e.Metrics, logger)
	e.Events = content.NewCollection(content.EventSchema(),
		e.records.Table(content.CollectionEvents), e.Identity, e.Metrics, logger)
	e.Vendors = content.NewCollection(content.VendorSchema(),
		e.records.Table(content.CollectionVendors), e.Identity, e.Metrics, logger)

	e.Chat = messaging.NewChat(e.Messages, e.Events, e.Vendors, e.Identity, opts.Confirmer, logger)
	e.Handoff = handoff.NewChannel(cfg.Handoff.BaseURL, opts.Launcher, e.Metrics, logger)
	e.Cart = commerce.NewCart(opts.Confirmer, logger)
	e.Checkout = commerce.NewCheckout(e.Cart, e.Identity, e.Handoff, logger)

	e.Listings = listing.NewWorkflow(e.Events, e.Vendors, e.Attachments, opts.Locator, opts.Confirmer, listing.Options{
		DefaultCoordinates: models.Coordinates{
			Latitude:  cfg.Listing.DefaultLatitude,
			Longitude: cfg.Listing.DefaultLongitude,
		},
		DefaultTime:         cfg.Listing.DefaultTime,
		DefaultCategory:     cfg.Listing.DefaultCategory,
		DefaultLocationName: cfg.Listing.DefaultLocationName,
		Location:            loc,
	}, logger)

	e.Poller = content.NewPoller(
		retry.DefaultBackoffConfig(cfg.Poll.Interval, cfg.Poll.MaxBackoff),
		logger,
		e.Messages, e.Events, e.Vendors,
	)

	return e, nil
}

func (e *Engine) openRecords(ctx context.Context) (recordstore.Store, error) {
	cfg := e.Config.Store
	switch cfg.Backend {
	case config.BackendMemory, "":
		return recordstore.NewMemoryStore(), nil
	case config.BackendPostgres:
		store, err := recordstore.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to record store: %w", err)
		}
		return store, nil
	case config.BackendREST:
		return recordstore.NewRESTStore(recordstore.RESTOptions{
			BaseURL:           cfg.RESTURL,
			APIKey:            cfg.APIKey,
			JWTSecret:         cfg.JWTSecret,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Subject: func() string {
				ident, err := e.Identity.Resolve()
				if err != nil {
					return ""
				}
				return ident.ID
			},
		}), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Mount loads every collection once. Each failure is reported; a failed
// collection keeps whatever it had cached.
func (e *Engine) Mount(ctx context.Context) error {
	if _, err := e.Identity.Resolve(); err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}

	syncers := []content.Syncer{e.Messages, e.Events, e.Vendors}
	errs := make([]error, len(syncers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range syncers {
		i, s := i, s
		g.Go(func() error {
			errs[i] = s.Sync(gctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// BuyTicket hands the ticket request for ev to its contact
func (e *Engine) BuyTicket(ctx context.Context, ev models.Event) error {
	if !ev.HasTickets() {
		return apperr.Invalid("ticketing", "this event does not sell tickets")
	}
	return e.Handoff.Send(ctx, handoff.KindTicket, ev.ContactChannel, handoff.TicketMessage(ev.Title))
}

// ContactEvent opens a conversation with the organiser of ev
func (e *Engine) ContactEvent(ctx context.Context, ev models.Event) error {
	return e.Handoff.Send(ctx, handoff.KindContact, ev.ContactChannel, handoff.TicketMessage(ev.Title))
}

// BuyProduct asks the vendor for a single product without using the cart
func (e *Engine) BuyProduct(ctx context.Context, v models.Vendor, p models.Product) error {
	if !p.Purchasable() {
		return apperr.Invalid("price", "this product is not for sale")
	}
	return e.Handoff.Send(ctx, handoff.KindProduct, v.ContactChannel, handoff.ProductMessage(p.Name))
}

// Close stops polling and releases the stores
func (e *Engine) Close() error {
	e.Poller.Stop()
	e.Listings.Close()
	return errors.Join(e.records.Close(), e.session.Close())
}
