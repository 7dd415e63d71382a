package commerce

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tupa/internal/confirm"
	"github.com/tupa/internal/logging"
	"github.com/tupa/pkg/models"
)

// Cart is the session's single-vendor cart. All lines share one vendor id.
// Cart is the only writer of its lines.
type Cart struct {
	mu       sync.Mutex
	lines    []models.CartLine
	vendorID string

	confirm confirm.Confirmer
	logger  zerolog.Logger
}

// NewCart creates an empty cart
func NewCart(confirmer confirm.Confirmer, logger zerolog.Logger) *Cart {
	return &Cart{
		confirm: confirmer,
		logger:  logging.Component(logger, "cart"),
	}
}

// AddToCart adds one unit of product. A product without a price is ignored.
// Adding from a different vendor asks to clear the cart first; declining
// leaves it untouched. It reports whether the cart changed.
func (c *Cart) AddToCart(ctx context.Context, product models.Product, vendorID string) (bool, error) {
	if !product.Purchasable() {
		return false, nil
	}

	c.mu.Lock()
	if len(c.lines) == 0 || c.vendorID == vendorID {
		defer c.mu.Unlock()
		c.addLocked(product, vendorID)
		return true, nil
	}
	c.mu.Unlock()

	ok, err := c.confirm.Confirm(ctx, "Seu carrinho tem itens de outra loja. Limpar e começar um novo?")
	if err != nil || !ok {
		return false, err
	}

	// the cart may have changed during the prompt; replace whatever is there now
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) > 0 && c.vendorID != vendorID {
		c.logger.Info().Str("from", c.vendorID).Str("to", vendorID).Msg("Cart replaced")
		c.lines = nil
	}
	c.addLocked(product, vendorID)
	return true, nil
}

func (c *Cart) addLocked(product models.Product, vendorID string) {
	c.vendorID = vendorID
	for i := range c.lines {
		if c.lines[i].ProductID == product.ID {
			c.lines[i].Quantity++
			return
		}
	}
	c.lines = append(c.lines, models.CartLine{
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitPrice:   *product.Price,
		Quantity:    1,
		VendorID:    vendorID,
	})
}

// RemoveFromCart deletes the product's line. Emptying the cart lifts the vendor constraint.
func (c *Cart) RemoveFromCart(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.lines, func(l models.CartLine) bool { return l.ProductID == productID })
	if i < 0 {
		return false
	}
	c.lines = slices.Delete(c.lines, i, i+1)
	if len(c.lines) == 0 {
		c.vendorID = ""
	}
	return true
}

// Clear empties the cart
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.vendorID = ""
}

// Lines returns a copy of the cart lines
func (c *Cart) Lines() []models.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

// VendorID is the vendor the cart belongs to, empty when the cart is empty
func (c *Cart) VendorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vendorID
}

// Total is the sum of unit price x quantity
func (c *Cart) Total() decimal.Decimal {
	return Total(c.Lines())
}

// Total sums lines
func Total(lines []models.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
