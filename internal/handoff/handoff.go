package handoff

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/logging"
	"github.com/tupa/internal/metrics"
)

// Handoff kinds, used for logging and metrics
const (
	KindCheckout = "checkout"
	KindTicket   = "ticket"
	KindProduct  = "product"
	KindContact  = "contact"
)

// Launcher opens a deep link in the external messaging application
type Launcher interface {
	Launch(ctx context.Context, link string) error
}

// PrintLauncher writes the link for the user to open
type PrintLauncher struct {
	Out io.Writer
}

func (l PrintLauncher) Launch(ctx context.Context, link string) error {
	_, err := fmt.Fprintf(l.Out, "Abrir: %s\n", link)
	return err
}

// Channel builds and launches prefilled-message deep links. Delivery is not tracked.
type Channel struct {
	baseURL  string
	launcher Launcher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewChannel creates a channel for a base URL such as https://wa.me/
func NewChannel(baseURL string, launcher Launcher, m *metrics.Metrics, logger zerolog.Logger) *Channel {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Channel{
		baseURL:  baseURL,
		launcher: launcher,
		metrics:  m,
		logger:   logging.Component(logger, "handoff"),
	}
}

// Link addresses text to a phone-like contact handle. Only its digits are kept.
func (c *Channel) Link(contact, text string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, contact)
	if digits == "" {
		return "", apperr.Invalid("contact_channel", "no phone number to hand off to")
	}
	return c.baseURL + digits + "?text=" + url.QueryEscape(text), nil
}

// Send builds the link and hands it to the launcher
func (c *Channel) Send(ctx context.Context, kind, contact, text string) error {
	link, err := c.Link(contact, text)
	if err == nil {
		err = c.launcher.Launch(ctx, link)
	}
	c.metrics.Handoff(kind, err)
	if err != nil {
		c.logger.Warn().Err(err).Str("kind", kind).Msg("Handoff failed")
		return err
	}
	c.logger.Info().Str("kind", kind).Msg("Handed off")
	return nil
}

// TicketMessage is the prefilled text for buying a ticket or contacting an event
func TicketMessage(eventTitle string) string {
	return "Oi! Vi seu evento no TUPÃ: " + eventTitle
}

// ProductMessage is the prefilled text for buying one product directly
func ProductMessage(productName string) string {
	return "Quero comprar " + productName
}
