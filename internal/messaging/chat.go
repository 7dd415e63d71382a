package messaging

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/confirm"
	"github.com/tupa/internal/content"
	"github.com/tupa/internal/logging"
	"github.com/tupa/pkg/models"
)

// Identity is the view of the acting user the chat needs
type Identity interface {
	Resolve() (models.Identity, error)
	OwnerRefs() ([]string, error)
}

// SendRequest is a message being composed
type SendRequest struct {
	Text        string
	Attachments []models.Attachment
	// ReplyTo, when set, is copied into the new message as a snapshot
	ReplyTo  *models.Message
	Mentions []models.Mention
}

// Target is what a mention resolves to. Exactly one of Event or Vendor is set;
// Product is set for product mentions.
type Target struct {
	Kind    models.MentionKind
	Event   *models.Event
	Vendor  *models.Vendor
	Product *models.Product
}

// Chat builds the visible feed and sends messages. It is the only writer of the block list.
type Chat struct {
	messages *content.Collection[models.Message]
	events   *content.Collection[models.Event]
	vendors  *content.Collection[models.Vendor]
	identity Identity
	confirm  confirm.Confirmer
	blocks   *BlockList
	logger   zerolog.Logger
}

// NewChat wires the chat over the three collections
func NewChat(
	messages *content.Collection[models.Message],
	events *content.Collection[models.Event],
	vendors *content.Collection[models.Vendor],
	identity Identity,
	confirmer confirm.Confirmer,
	logger zerolog.Logger,
) *Chat {
	return &Chat{
		messages: messages,
		events:   events,
		vendors:  vendors,
		identity: identity,
		confirm:  confirmer,
		blocks:   NewBlockList(),
		logger:   logging.Component(logger, "messaging"),
	}
}

// Blocked exposes the session block list for reading
func (c *Chat) Blocked() *BlockList { return c.blocks }

// Feed is the visible feed over the cached message window
func (c *Chat) Feed() []models.Message {
	return VisibleFeed(c.messages.Items(), c.blocks)
}

// Refresh re-fetches messages and returns the visible feed
func (c *Chat) Refresh(ctx context.Context) ([]models.Message, error) {
	if _, err := c.messages.Refresh(ctx); err != nil {
		return c.Feed(), err
	}
	return c.Feed(), nil
}

// Block hides authorRef for the rest of the session after confirmation.
// It reports whether the author ended up blocked.
func (c *Chat) Block(ctx context.Context, authorRef, displayName string) (bool, error) {
	authorRef = strings.TrimSpace(authorRef)
	if authorRef == "" {
		return false, apperr.Invalid("author", "required")
	}
	refs, err := c.identity.OwnerRefs()
	if err != nil {
		return false, err
	}
	if slices.Contains(refs, authorRef) {
		return false, apperr.Invalid("author", "cannot block yourself")
	}
	if c.blocks.Contains(authorRef) {
		return true, nil
	}

	if displayName == "" {
		displayName = authorRef
	}
	ok, err := c.confirm.Confirm(ctx, "Bloquear "+displayName+"? As mensagens dessa pessoa serão ocultadas.")
	if err != nil || !ok {
		return false, err
	}
	c.blocks.add(authorRef)
	c.logger.Info().Str("author", authorRef).Msg("Blocked author")
	return true, nil
}

// Send appends a message through the collection. Blank text with no
// attachments is a no-op and returns nil, nil.
func (c *Chat) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Attachments) == 0 {
		return nil, nil
	}

	ident, err := c.identity.Resolve()
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		DisplayName: ident.DisplayName,
		Text:        text,
		Attachments: slices.Clone(req.Attachments),
		Mentions:    slices.Clone(req.Mentions),
	}
	if req.ReplyTo != nil {
		msg.ReplyTo = &models.ReplyRef{
			MessageID:   req.ReplyTo.ID,
			DisplayName: req.ReplyTo.DisplayName,
			Text:        req.ReplyTo.Text,
		}
	}

	created, err := c.messages.Create(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Delete removes one of the user's own messages after confirmation.
// It reports whether the message was deleted.
func (c *Chat) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := c.confirm.Confirm(ctx, "Apagar esta mensagem?")
	if err != nil || !ok {
		return false, err
	}
	if err := c.messages.Remove(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// IsMine reports whether the acting user authored m
func (c *Chat) IsMine(m models.Message) bool {
	return c.messages.CanMutate(m)
}

// ResolveMention looks the mention up in the cached listings. An unresolved
// mention is inert and returns ok=false.
func (c *Chat) ResolveMention(m models.Mention) (Target, bool) {
	switch m.Kind {
	case models.MentionEvent:
		if ev, ok := c.events.Get(m.ID); ok {
			return Target{Kind: m.Kind, Event: &ev}, true
		}
	case models.MentionProduct:
		for _, v := range c.vendors.Items() {
			if p, ok := v.FindProduct(m.ID); ok {
				vendor := v
				return Target{Kind: m.Kind, Vendor: &vendor, Product: &p}, true
			}
		}
	}
	return Target{}, false
}

// EventMention builds a mention of an event for a message being composed
func EventMention(ev models.Event) models.Mention {
	return models.Mention{ID: ev.ID, Kind: models.MentionEvent, Label: ev.Title, ImageRef: ev.CoverImageRef}
}

// ProductMention builds a mention of a vendor's product
func ProductMention(v models.Vendor, p models.Product) models.Mention {
	return models.Mention{ID: p.ID, Kind: models.MentionProduct, Label: p.Name, ImageRef: v.CoverImageRef}
}
