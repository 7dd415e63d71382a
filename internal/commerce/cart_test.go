package commerce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/confirm"
	"github.com/tupa/pkg/models"
)

func product(id, name string, price int64) models.Product {
	p := decimal.NewFromInt(price)
	return models.Product{ID: id, Name: name, Price: &p}
}

func TestAddToCartIgnoresPricelessProducts(t *testing.T) {
	cart := NewCart(confirm.Always(true), zerolog.Nop())
	changed, err := cart.AddToCart(context.Background(), models.Product{ID: "deco", Name: "Mural"}, "v1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, cart.Lines())
	assert.Empty(t, cart.VendorID())
}

func TestAddSameProductIncrements(t *testing.T) {
	ctx := context.Background()
	cart := NewCart(confirm.Always(true), zerolog.Nop())
	p := product("p1", "Pastel", 25)

	_, err := cart.AddToCart(ctx, p, "v1")
	require.NoError(t, err)
	_, err = cart.AddToCart(ctx, p, "v1")
	require.NoError(t, err)

	lines := cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "v1", lines[0].VendorID)
	assert.True(t, decimal.NewFromInt(50).Equal(cart.Total()))
}

func TestVendorSwitchNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	answer := false
	cart := NewCart(confirm.Func(func(context.Context, string) (bool, error) { return answer, nil }), zerolog.Nop())

	_, err := cart.AddToCart(ctx, product("p1", "Pastel", 25), "v1")
	require.NoError(t, err)

	changed, err := cart.AddToCart(ctx, product("p9", "Sabonete", 8), "v2")
	require.NoError(t, err)
	assert.False(t, changed, "declining leaves the cart untouched")
	assert.Equal(t, "v1", cart.VendorID())
	require.Len(t, cart.Lines(), 1)

	answer = true
	changed, err = cart.AddToCart(ctx, product("p9", "Sabonete", 8), "v2")
	require.NoError(t, err)
	assert.True(t, changed)
	lines := cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "p9", lines[0].ProductID)
	assert.Equal(t, "v2", cart.VendorID())
}

func TestConcurrentAddsStaySingleVendor(t *testing.T) {
	ctx := context.Background()
	cart := NewCart(confirm.Always(true), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vendor := []string{"v1", "v2", "v3"}[i%3]
			_, _ = cart.AddToCart(ctx, product("p-"+vendor, "Item", 5), vendor)
		}(i)
	}
	wg.Wait()

	lines := cart.Lines()
	require.NotEmpty(t, lines)
	for _, l := range lines {
		assert.Equal(t, cart.VendorID(), l.VendorID)
	}
}

func TestRemoveFromCart(t *testing.T) {
	ctx := context.Background()
	cart := NewCart(confirm.Always(false), zerolog.Nop())
	_, err := cart.AddToCart(ctx, product("p1", "Pastel", 25), "v1")
	require.NoError(t, err)
	_, err = cart.AddToCart(ctx, product("p2", "Caldo", 6), "v1")
	require.NoError(t, err)

	assert.True(t, cart.RemoveFromCart("p1"))
	assert.False(t, cart.RemoveFromCart("p1"))
	assert.Equal(t, "v1", cart.VendorID())

	assert.True(t, cart.RemoveFromCart("p2"))
	assert.Empty(t, cart.VendorID(), "emptying the cart lifts the vendor constraint")

	// a different vendor no longer needs confirmation (the confirmer would decline)
	changed, err := cart.AddToCart(ctx, product("p9", "Sabonete", 8), "v2")
	require.NoError(t, err)
	assert.True(t, changed)
}

type recordingSender struct {
	contact string
	text    string
	err     error
}

func (r *recordingSender) Send(ctx context.Context, kind, contact, text string) error {
	if r.err != nil {
		return r.err
	}
	r.contact, r.text = contact, text
	return nil
}

type buyer string

func (b buyer) Resolve() (models.Identity, error) {
	return models.Identity{ID: "u1", DisplayName: string(b)}, nil
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()
	cart := NewCart(confirm.Always(true), zerolog.Nop())
	sender := &recordingSender{}
	co := NewCheckout(cart, buyer("Ana"), sender, zerolog.Nop())
	vendor := models.Vendor{ListingBase: models.ListingBase{ID: "v1", Title: "Pastelaria", ContactChannel: "+55 11 90000-0000"}}

	sent, err := co.Checkout(ctx, vendor)
	require.NoError(t, err)
	assert.False(t, sent, "empty cart is a no-op")

	pastel := product("p1", "Pastel", 25)
	for i := 0; i < 2; i++ {
		_, err := cart.AddToCart(ctx, pastel, "v1")
		require.NoError(t, err)
	}
	_, err = cart.AddToCart(ctx, product("p2", "Caldo de cana", 6), "v1")
	require.NoError(t, err)

	sent, err = co.Checkout(ctx, vendor)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, "+55 11 90000-0000", sender.contact)
	assert.Contains(t, sender.text, "Cliente: Ana")
	assert.Contains(t, sender.text, "Loja: Pastelaria")
	assert.Contains(t, sender.text, "2x Pastel (R$ 25.00) = R$ 50.00")
	assert.Contains(t, sender.text, "1x Caldo de cana (R$ 6.00) = R$ 6.00")
	assert.True(t, strings.HasSuffix(sender.text, "Total: R$ 56.00"))
	assert.Empty(t, cart.Lines(), "cart is cleared after handoff")
}

func TestCheckoutFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	cart := NewCart(confirm.Always(true), zerolog.Nop())
	_, err := cart.AddToCart(ctx, product("p1", "Pastel", 25), "v1")
	require.NoError(t, err)

	failing := NewCheckout(cart, buyer("Ana"), &recordingSender{err: errors.New("no app")}, zerolog.Nop())
	vendor := models.Vendor{ListingBase: models.ListingBase{ID: "v1", Title: "Pastelaria", ContactChannel: "119"}}
	_, err = failing.Checkout(ctx, vendor)
	require.Error(t, err)
	assert.Len(t, cart.Lines(), 1)

	noContact := NewCheckout(cart, buyer("Ana"), &recordingSender{}, zerolog.Nop())
	_, err = noContact.Checkout(ctx, models.Vendor{ListingBase: models.ListingBase{ID: "v1"}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = noContact.Checkout(ctx, models.Vendor{ListingBase: models.ListingBase{ID: "v2", ContactChannel: "1"}})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Len(t, cart.Lines(), 1)
}
