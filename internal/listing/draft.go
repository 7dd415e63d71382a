package listing

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/pkg/models"
)

// Form layouts for the split date/time fields of an event
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Categories offered for vendors
var Categories = []string{"Comidas", "Farmácia", "Lojas"}

// Draft is the form being edited: either *EventDraft or *VendorDraft
type Draft interface {
	Kind() models.ListingKind
	// Validate checks the variant's required fields
	Validate(loc *time.Location) error
	clone() Draft
}

// EventDraft is the event form. Date and time are edited separately and
// ticketing is flattened into two fields.
type EventDraft struct {
	Title          string
	Description    string
	CoverImage     string
	ContactChannel string
	LocationName   string
	Date           string
	Time           string
	Coordinates    *models.Coordinates
	TicketsEnabled bool
	TicketPrice    *decimal.Decimal
}

func (d *EventDraft) Kind() models.ListingKind { return models.KindEvent }

func (d *EventDraft) Validate(loc *time.Location) error {
	verr := &apperr.ValidationError{}
	if strings.TrimSpace(d.Title) == "" {
		verr.Add("title", "required")
	}
	if strings.TrimSpace(d.CoverImage) == "" {
		verr.Add("cover_image", "required")
	}
	if strings.TrimSpace(d.ContactChannel) == "" {
		verr.Add("contact_channel", "required")
	}
	if d.Date == "" {
		verr.Add("date", "required")
	} else if _, err := time.ParseInLocation(DateLayout, d.Date, loc); err != nil {
		verr.Add("date", "must be YYYY-MM-DD")
	}
	if d.Time == "" {
		verr.Add("time", "required")
	} else if _, err := time.ParseInLocation(TimeLayout, d.Time, loc); err != nil {
		verr.Add("time", "must be HH:MM")
	}
	if d.TicketsEnabled {
		if d.TicketPrice == nil {
			verr.Add("ticket_price", "required when tickets are enabled")
		} else if !d.TicketPrice.IsPositive() {
			verr.Add("ticket_price", "must be greater than zero")
		}
	}
	return verr.OrNil()
}

// StartTime combines the date and time fields in loc and returns UTC
func (d *EventDraft) StartTime(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, d.Date+" "+d.Time, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (d *EventDraft) clone() Draft {
	c := *d
	if d.Coordinates != nil {
		coords := *d.Coordinates
		c.Coordinates = &coords
	}
	if d.TicketPrice != nil {
		price := *d.TicketPrice
		c.TicketPrice = &price
	}
	return &c
}

// applyTo copies the form onto an event, keeping its identity fields
func (d *EventDraft) applyTo(ev *models.Event, loc *time.Location, defaultLocation string) error {
	start, err := d.StartTime(loc)
	if err != nil {
		return err
	}
	ev.Title = strings.TrimSpace(d.Title)
	ev.Description = strings.TrimSpace(d.Description)
	ev.CoverImageRef = d.CoverImage
	ev.ContactChannel = strings.TrimSpace(d.ContactChannel)
	ev.LocationName = strings.TrimSpace(d.LocationName)
	if ev.LocationName == "" {
		ev.LocationName = defaultLocation
	}
	ev.StartTime = start
	ev.Coordinates = nil
	if d.Coordinates != nil {
		coords := *d.Coordinates
		ev.Coordinates = &coords
	}
	ev.Ticketing = nil
	if d.TicketsEnabled && d.TicketPrice != nil {
		ev.Ticketing = &models.Ticketing{Enabled: true, Price: *d.TicketPrice}
	}
	return nil
}

// eventDraftFrom pre-populates the form from an existing event
func eventDraftFrom(ev models.Event, loc *time.Location) *EventDraft {
	local := ev.StartTime.In(loc)
	d := &EventDraft{
		Title:          ev.Title,
		Description:    ev.Description,
		CoverImage:     ev.CoverImageRef,
		ContactChannel: ev.ContactChannel,
		LocationName:   ev.LocationName,
		Date:           local.Format(DateLayout),
		Time:           local.Format(TimeLayout),
	}
	if ev.Coordinates != nil {
		coords := *ev.Coordinates
		d.Coordinates = &coords
	}
	if ev.Ticketing != nil {
		d.TicketsEnabled = ev.Ticketing.Enabled
		price := ev.Ticketing.Price
		d.TicketPrice = &price
	}
	return d
}

// DraftProduct is a catalog row in the vendor form. Persisted products
// already exist on the published listing.
type DraftProduct struct {
	ID        string
	Name      string
	Price     *decimal.Decimal
	Persisted bool
}

// VendorDraft is the vendor form with its inline product sub-list
type VendorDraft struct {
	Name           string
	Description    string
	CoverImage     string
	ContactChannel string
	Category       string
	HasCatalog     bool
	Products       []DraftProduct
}

func (d *VendorDraft) Kind() models.ListingKind { return models.KindVendor }

func (d *VendorDraft) Validate(loc *time.Location) error {
	verr := &apperr.ValidationError{}
	if strings.TrimSpace(d.Name) == "" {
		verr.Add("name", "required")
	}
	if strings.TrimSpace(d.CoverImage) == "" {
		verr.Add("cover_image", "required")
	}
	if strings.TrimSpace(d.ContactChannel) == "" {
		verr.Add("contact_channel", "required")
	}
	if !d.HasCatalog && len(d.Products) > 0 {
		verr.Add("products", "enable the catalog or remove the products")
	}
	for _, p := range d.Products {
		if strings.TrimSpace(p.Name) == "" {
			verr.Add("products", "every product needs a name")
		}
		if !p.Persisted && p.Price == nil {
			verr.Add("products", "new products need a price")
		}
		if p.Price != nil && p.Price.IsNegative() {
			verr.Add("products", "prices cannot be negative")
		}
	}
	return verr.OrNil()
}

func (d *VendorDraft) clone() Draft {
	c := *d
	c.Products = make([]DraftProduct, len(d.Products))
	for i, p := range d.Products {
		if p.Price != nil {
			price := *p.Price
			p.Price = &price
		}
		c.Products[i] = p
	}
	return &c
}

func (d *VendorDraft) applyTo(v *models.Vendor) {
	v.Title = strings.TrimSpace(d.Name)
	v.Description = strings.TrimSpace(d.Description)
	v.CoverImageRef = d.CoverImage
	v.ContactChannel = strings.TrimSpace(d.ContactChannel)
	v.Category = d.Category
	v.HasCatalog = d.HasCatalog
	v.Products = []models.Product{}
	if !d.HasCatalog {
		return
	}
	for _, p := range d.Products {
		v.Products = append(v.Products, models.Product{ID: p.ID, Name: strings.TrimSpace(p.Name), Price: p.Price})
	}
}

func vendorDraftFrom(v models.Vendor) *VendorDraft {
	d := &VendorDraft{
		Name:           v.Title,
		Description:    v.Description,
		CoverImage:     v.CoverImageRef,
		ContactChannel: v.ContactChannel,
		Category:       v.Category,
		HasCatalog:     v.HasCatalog,
	}
	for _, p := range v.Products {
		d.Products = append(d.Products, DraftProduct{ID: p.ID, Name: p.Name, Price: p.Price, Persisted: true})
	}
	return d
}

func (d *VendorDraft) productIndex(id string) int {
	return slices.IndexFunc(d.Products, func(p DraftProduct) bool { return p.ID == id })
}
