package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Identity models

// IdentityKind distinguishes a per-device guest from a registered profile
type IdentityKind string

const (
	IdentityAnonymous     IdentityKind = "anonymous"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// Identity is the acting user. Authored records store its ID as CreatorRef.
type Identity struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name"`
	Email       string       `json:"email,omitempty"`
	AvatarRef   string       `json:"avatar_ref,omitempty"`
	Kind        IdentityKind `json:"kind"`
}

// IsAnonymous reports whether the identity is the device token
func (i Identity) IsAnonymous() bool { return i.Kind == IdentityAnonymous }

// Media models

// MediaKind is derived from the MIME prefix of an attachment
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Attachment is an encoded, previewable media payload. It is never mutated after construction.
type Attachment struct {
	MIMEType       string    `json:"mime_type"`
	EncodedPayload string    `json:"data"`
	MediaKind      MediaKind `json:"type"`
	PreviewRef     string    `json:"preview_url"`
	SizeBytes      int64     `json:"size_bytes,omitempty"`
}

// Chat models

// ReplyRef is a value copy of the replied-to message taken when the reply was sent.
// It is not a foreign key and outlives the original message.
type ReplyRef struct {
	MessageID   string `json:"message_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

// MentionKind is the type of entity a mention points at
type MentionKind string

const (
	MentionEvent   MentionKind = "event"
	MentionProduct MentionKind = "product"
)

// Mention is an inline reference to a listing or product, resolved at render time
type Mention struct {
	ID       string      `json:"id"`
	Kind     MentionKind `json:"type"`
	Label    string      `json:"label"`
	ImageRef string      `json:"image,omitempty"`
}

// Message is a chat message. Messages are immutable once created.
type Message struct {
	ID          string       `json:"id"`
	AuthorRef   string       `json:"creator_ref"`
	DisplayName string       `json:"sender_name"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	ReplyTo     *ReplyRef    `json:"reply_to,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`
}

// Listing models

// ListingKind tags the Listing union
type ListingKind string

const (
	KindEvent  ListingKind = "event"
	KindVendor ListingKind = "vendor"
)

// ListingBase holds the fields shared by events and vendors
type ListingBase struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	CoverImageRef  string    `json:"image_url"`
	CreatorRef     string    `json:"creator_ref"`
	ContactChannel string    `json:"contact_channel"`
	CreatedAt      time.Time `json:"created_at"`
}

// Listing is implemented by *Event and *Vendor
type Listing interface {
	ListingKind() ListingKind
	Base() ListingBase
}

// Coordinates is a latitude/longitude pair
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Ticketing describes direct ticket sales for an event
type Ticketing struct {
	Enabled bool            `json:"enabled"`
	Price   decimal.Decimal `json:"price"`
}

// Event is a location-tagged listing with a start time
type Event struct {
	ListingBase
	LocationName string       `json:"location_name"`
	Coordinates  *Coordinates `json:"coordinates"`
	StartTime    time.Time    `json:"start_time"`
	Ticketing    *Ticketing   `json:"ticketing"`
}

func (e *Event) ListingKind() ListingKind { return KindEvent }
func (e *Event) Base() ListingBase        { return e.ListingBase }

// HasTickets reports whether tickets can be bought through a handoff
func (e *Event) HasTickets() bool { return e.Ticketing != nil && e.Ticketing.Enabled }

// Product is a catalog entry. A product without a price is decorative and cannot be bought.
type Product struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

// Purchasable reports whether the product can be added to a cart
func (p Product) Purchasable() bool { return p.Price != nil }

// Vendor is an establishment listing, optionally exposing a catalog.
// A vendor without a catalog always has an empty product list.
type Vendor struct {
	ListingBase
	Category   string    `json:"category"`
	HasCatalog bool      `json:"has_catalog"`
	Products   []Product `json:"products"`
}

func (v *Vendor) ListingKind() ListingKind { return KindVendor }
func (v *Vendor) Base() ListingBase        { return v.ListingBase }

// FindProduct returns the catalog product with the given id
func (v *Vendor) FindProduct(id string) (Product, bool) {
	for _, p := range v.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// Commerce models

// CartLine is one product in the single-vendor cart
type CartLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	VendorID    string          `json:"vendor_id"`
}

// Subtotal is UnitPrice x Quantity
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
