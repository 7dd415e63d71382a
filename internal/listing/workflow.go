package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/attachment"
	"github.com/tupa/internal/confirm"
	"github.com/tupa/internal/content"
	"github.com/tupa/internal/geo"
	"github.com/tupa/internal/logging"
	"github.com/tupa/pkg/models"
)

// ErrNoDraft is returned when an operation needs an open form
var ErrNoDraft = errors.New("no listing is being edited")

// State of the workflow
type State int

const (
	StateIdle State = iota
	StateEditing
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Encoder turns a local file into an attachment
type Encoder interface {
	Encode(ctx context.Context, src attachment.Source) (models.Attachment, error)
}

// Options holds form defaults
type Options struct {
	DefaultCoordinates  models.Coordinates
	DefaultTime         string
	DefaultCategory     string
	DefaultLocationName string
	Location            *time.Location
	Now                 func() time.Time
}

// Workflow is the shared create/edit controller for events and vendors:
// Idle -> Editing -> Submitting -> Idle, or back to Editing on failure.
type Workflow struct {
	events  *content.Collection[models.Event]
	vendors *content.Collection[models.Vendor]
	encoder Encoder
	locator geo.Locator
	confirm confirm.Confirmer
	opts    Options
	logger  zerolog.Logger

	mu     sync.Mutex
	state  State
	draft  Draft
	editID string
	errs   map[string]string
	// epoch changes whenever the form is reset; async results tagged with an older epoch are dropped
	epoch      uint64
	stopWatch  context.CancelFunc
	userCoords bool
	watchDone  chan struct{}
}

// NewWorkflow creates an idle workflow
func NewWorkflow(
	events *content.Collection[models.Event],
	vendors *content.Collection[models.Vendor],
	encoder Encoder,
	locator geo.Locator,
	confirmer confirm.Confirmer,
	opts Options,
	logger zerolog.Logger,
) *Workflow {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultTime == "" {
		opts.DefaultTime = "20:00"
	}
	return &Workflow{
		events:  events,
		vendors: vendors,
		encoder: encoder,
		locator: locator,
		confirm: confirmer,
		opts:    opts,
		logger:  logging.Component(logger, "listing"),
	}
}

// State returns the current state
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Draft returns a copy of the form, or nil when idle
func (w *Workflow) Draft() Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		return nil
	}
	return w.draft.clone()
}

// Editing reports the id being edited, empty for a new listing
func (w *Workflow) Editing() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.editID
}

// FieldErrors returns the field messages from the last failed submit
func (w *Workflow) FieldErrors() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.errs))
	for k, v := range w.errs {
		out[k] = v
	}
	return out
}

// OpenCreate starts a new listing of kind with default values. For events a
// position lookup runs in the background and fills the coordinates unless the
// user has set them; it is torn down when the form closes.
func (w *Workflow) OpenCreate(ctx context.Context, kind models.ListingKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateSubmitting {
		return apperr.ErrBusy
	}
	w.resetLocked()

	switch kind {
	case models.KindEvent:
		coords := w.opts.DefaultCoordinates
		w.draft = &EventDraft{
			Date:         w.opts.Now().In(w.opts.Location).Format(DateLayout),
			Time:         w.opts.DefaultTime,
			LocationName: w.opts.DefaultLocationName,
			Coordinates:  &coords,
		}
		w.startWatchLocked(ctx)
	case models.KindVendor:
		w.draft = &VendorDraft{Category: w.opts.DefaultCategory}
	default:
		return fmt.Errorf("unknown listing kind %q", kind)
	}
	w.state = StateEditing
	w.logger.Debug().Str("kind", string(kind)).Msg("Opened create form")
	return nil
}

// OpenEdit pre-populates the form from a listing the user owns
func (w *Workflow) OpenEdit(ctx context.Context, l models.Listing) error {
	var draft Draft
	switch v := l.(type) {
	case *models.Event:
		if !w.events.CanMutate(*v) {
			return apperr.Permission(content.CollectionEvents, v.ID)
		}
		draft = eventDraftFrom(*v, w.opts.Location)
	case *models.Vendor:
		if !w.vendors.CanMutate(*v) {
			return apperr.Permission(content.CollectionVendors, v.ID)
		}
		draft = vendorDraftFrom(*v)
	default:
		return fmt.Errorf("unsupported listing %T", l)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateSubmitting {
		return apperr.ErrBusy
	}
	w.resetLocked()
	w.draft = draft
	w.editID = l.Base().ID
	w.state = StateEditing
	w.logger.Debug().Str("kind", string(l.ListingKind())).Str("id", w.editID).Msg("Opened edit form")
	return nil
}

// UpdateEvent edits the open event form
func (w *Workflow) UpdateEvent(fn func(*EventDraft)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.draft.(*EventDraft)
	if w.state != StateEditing || !ok {
		return ErrNoDraft
	}
	before := coordsOf(d)
	fn(d)
	if coordsOf(d) != before {
		w.userCoords = true
	}
	return nil
}

// UpdateVendor edits the open vendor form
func (w *Workflow) UpdateVendor(fn func(*VendorDraft)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.draft.(*VendorDraft)
	if w.state != StateEditing || !ok {
		return ErrNoDraft
	}
	fn(d)
	return nil
}

// SetCover encodes src and uses it as the cover image. If the form was closed
// or reopened while encoding, the result is dropped and applied is false.
func (w *Workflow) SetCover(ctx context.Context, src attachment.Source) (applied bool, err error) {
	w.mu.Lock()
	if w.state != StateEditing {
		w.mu.Unlock()
		return false, ErrNoDraft
	}
	epoch := w.epoch
	w.mu.Unlock()

	att, err := w.encoder.Encode(ctx, src)
	if err != nil {
		return false, err
	}
	if att.MediaKind != models.MediaImage {
		return false, fmt.Errorf("%w: cover must be an image, got %s", apperr.ErrUnsupportedMedia, att.MIMEType)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch || w.state != StateEditing {
		w.logger.Debug().Str("name", src.Name()).Msg("Discarding cover for a closed form")
		return false, nil
	}
	switch d := w.draft.(type) {
	case *EventDraft:
		d.CoverImage = att.PreviewRef
	case *VendorDraft:
		d.CoverImage = att.PreviewRef
	}
	return true, nil
}

// AddProduct appends a new product to the vendor form's catalog
func (w *Workflow) AddProduct(name string, price *decimal.Decimal) (DraftProduct, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.draft.(*VendorDraft)
	if w.state != StateEditing || !ok {
		return DraftProduct{}, ErrNoDraft
	}

	verr := &apperr.ValidationError{}
	if !d.HasCatalog {
		verr.Add("has_catalog", "enable the catalog first")
	}
	if strings.TrimSpace(name) == "" {
		verr.Add("name", "required")
	}
	if price == nil {
		verr.Add("price", "required")
	} else if price.IsNegative() {
		verr.Add("price", "cannot be negative")
	}
	if err := verr.OrNil(); err != nil {
		return DraftProduct{}, err
	}

	p := *price
	product := DraftProduct{ID: uuid.NewString(), Name: strings.TrimSpace(name), Price: &p}
	d.Products = append(d.Products, product)
	return product, nil
}

// RemoveProduct drops a product from the vendor form. A product not yet
// published goes immediately; a published one needs confirmation.
func (w *Workflow) RemoveProduct(ctx context.Context, id string) (bool, error) {
	w.mu.Lock()
	d, ok := w.draft.(*VendorDraft)
	if w.state != StateEditing || !ok {
		w.mu.Unlock()
		return false, ErrNoDraft
	}
	i := d.productIndex(id)
	if i < 0 {
		w.mu.Unlock()
		return false, fmt.Errorf("%w: product %s", apperr.ErrNotFound, id)
	}
	if !d.Products[i].Persisted {
		d.Products = append(d.Products[:i], d.Products[i+1:]...)
		w.mu.Unlock()
		return true, nil
	}
	name, epoch := d.Products[i].Name, w.epoch
	w.mu.Unlock()

	ok, err := w.confirm.Confirm(ctx, "Remover "+name+" do catálogo publicado?")
	if err != nil || !ok {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	d, isVendor := w.draft.(*VendorDraft)
	if w.epoch != epoch || w.state != StateEditing || !isVendor {
		return false, nil
	}
	if i = d.productIndex(id); i < 0 {
		return false, nil
	}
	d.Products = append(d.Products[:i], d.Products[i+1:]...)
	return true, nil
}

// Submit validates the form and creates or updates the listing. On a
// validation or remote failure the form stays open with its fields intact.
func (w *Workflow) Submit(ctx context.Context) (models.Listing, error) {
	w.mu.Lock()
	switch w.state {
	case StateSubmitting:
		w.mu.Unlock()
		return nil, apperr.ErrBusy
	case StateIdle:
		w.mu.Unlock()
		return nil, ErrNoDraft
	}
	if err := w.draft.Validate(w.opts.Location); err != nil {
		var verr *apperr.ValidationError
		if errors.As(err, &verr) {
			w.errs = verr.Fields
		}
		w.mu.Unlock()
		return nil, err
	}
	w.errs = nil
	draft, editID, epoch := w.draft.clone(), w.editID, w.epoch
	w.state = StateSubmitting
	w.mu.Unlock()

	listing, err := w.persist(ctx, draft, editID)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		// closed while submitting; the outcome no longer belongs to this form
		return listing, err
	}
	if err != nil {
		w.state = StateEditing
		w.logger.Warn().Err(err).Str("kind", string(draft.Kind())).Msg("Submit failed, draft kept")
		return nil, err
	}
	w.resetLocked()
	w.logger.Info().Str("kind", string(draft.Kind())).Str("id", listing.Base().ID).Msg("Listing saved")
	return listing, nil
}

// persist runs the create or update. The collection refreshes itself after success.
func (w *Workflow) persist(ctx context.Context, draft Draft, editID string) (models.Listing, error) {
	switch d := draft.(type) {
	case *EventDraft:
		if editID == "" {
			var ev models.Event
			if err := d.applyTo(&ev, w.opts.Location, w.opts.DefaultLocationName); err != nil {
				return nil, err
			}
			created, err := w.events.Create(ctx, ev)
			if err != nil {
				return nil, err
			}
			return &created, nil
		}
		var applyErr error
		updated, err := w.events.Update(ctx, editID, func(ev *models.Event) {
			applyErr = d.applyTo(ev, w.opts.Location, w.opts.DefaultLocationName)
		})
		if applyErr != nil {
			return nil, applyErr
		}
		if err != nil {
			return nil, err
		}
		return &updated, nil

	case *VendorDraft:
		if editID == "" {
			var v models.Vendor
			d.applyTo(&v)
			created, err := w.vendors.Create(ctx, v)
			if err != nil {
				return nil, err
			}
			return &created, nil
		}
		updated, err := w.vendors.Update(ctx, editID, d.applyTo)
		if err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("unsupported draft %T", draft)
}

// Close discards the form. Pending encodes and lookups finish but their results are dropped.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

// Delete removes a listing the user owns after confirmation
func (w *Workflow) Delete(ctx context.Context, l models.Listing) (bool, error) {
	ok, err := w.confirm.Confirm(ctx, "Deseja mesmo apagar este item?")
	if err != nil || !ok {
		return false, err
	}
	switch v := l.(type) {
	case *models.Event:
		err = w.events.Remove(ctx, v.ID)
	case *models.Vendor:
		err = w.vendors.Remove(ctx, v.ID)
	default:
		err = fmt.Errorf("unsupported listing %T", l)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WaitLocation blocks until the current position lookup has finished or ctx ends
func (w *Workflow) WaitLocation(ctx context.Context) error {
	w.mu.Lock()
	done := w.watchDone
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Workflow) resetLocked() {
	w.epoch++
	if w.stopWatch != nil {
		w.stopWatch()
		w.stopWatch = nil
	}
	w.watchDone = nil
	w.state = StateIdle
	w.draft = nil
	w.editID = ""
	w.errs = nil
	w.userCoords = false
}

func (w *Workflow) startWatchLocked(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	w.stopWatch = cancel
	w.watchDone = done
	epoch := w.epoch

	go func() {
		defer close(done)
		pos, err := geo.Resolve(ctx, w.locator, w.opts.DefaultCoordinates, w.logger)
		if err != nil {
			return
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		d, ok := w.draft.(*EventDraft)
		if w.epoch != epoch || !ok || w.userCoords {
			return
		}
		d.Coordinates = &pos
	}()
}

func coordsOf(d *EventDraft) models.Coordinates {
	if d.Coordinates == nil {
		return models.Coordinates{}
	}
	return *d.Coordinates
}
