package commerce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/handoff"
	"github.com/tupa/internal/logging"
	"github.com/tupa/pkg/models"
)

// Buyer resolves who is placing the order
type Buyer interface {
	Resolve() (models.Identity, error)
}

// Sender hands a prefilled message to an external channel
type Sender interface {
	Send(ctx context.Context, kind, contact, text string) error
}

// Checkout turns the cart into an order message for the vendor
type Checkout struct {
	cart   *Cart
	buyer  Buyer
	sender Sender
	logger zerolog.Logger
}

// NewCheckout creates a checkout over cart
func NewCheckout(cart *Cart, buyer Buyer, sender Sender, logger zerolog.Logger) *Checkout {
	return &Checkout{
		cart:   cart,
		buyer:  buyer,
		sender: sender,
		logger: logging.Component(logger, "checkout"),
	}
}

// Checkout hands the order summary to the vendor's contact and clears the cart.
// An empty cart is a no-op. Delivery is not tracked, so there is no rollback.
// It reports whether an order was handed off.
func (co *Checkout) Checkout(ctx context.Context, vendor models.Vendor) (bool, error) {
	lines := co.cart.Lines()
	if len(lines) == 0 {
		return false, nil
	}
	if lines[0].VendorID != vendor.ID {
		return false, apperr.Invalid("vendor", "cart belongs to another vendor")
	}
	if strings.TrimSpace(vendor.ContactChannel) == "" {
		return false, apperr.Invalid("contact_channel", "vendor has no contact")
	}

	buyer, err := co.buyer.Resolve()
	if err != nil {
		return false, err
	}

	text := OrderSummary(buyer.DisplayName, vendor.Title, lines)
	if err := co.sender.Send(ctx, handoff.KindCheckout, vendor.ContactChannel, text); err != nil {
		return false, err
	}

	co.cart.Clear()
	co.logger.Info().
		Str("vendor", vendor.ID).
		Int("lines", len(lines)).
		Str("total", Total(lines).StringFixed(2)).
		Msg("Order handed off")
	return true, nil
}

// OrderSummary is the plain-text order sent to the vendor
func OrderSummary(buyerName, vendorName string, lines []models.CartLine) string {
	var sb strings.Builder
	sb.WriteString("Olá! Quero fazer um pedido pelo TUPÃ.\n")
	fmt.Fprintf(&sb, "Cliente: %s\n", buyerName)
	fmt.Fprintf(&sb, "Loja: %s\n\n", vendorName)
	for _, l := range lines {
		fmt.Fprintf(&sb, "%dx %s (%s) = %s\n", l.Quantity, l.ProductName, Money(l.UnitPrice), Money(l.Subtotal()))
	}
	fmt.Fprintf(&sb, "\nTotal: %s", Money(Total(lines)))
	return sb.String()
}

// Money renders an amount in reais with two decimals
func Money(d decimal.Decimal) string {
	return "R$ " + d.StringFixed(2)
}
