package messaging

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/confirm"
	"github.com/tupa/internal/content"
	"github.com/tupa/internal/recordstore"
	"github.com/tupa/pkg/models"
)

type stubIdentity struct {
	ident models.Identity
}

func (s *stubIdentity) Resolve() (models.Identity, error) { return s.ident, nil }
func (s *stubIdentity) OwnerRefs() ([]string, error) { return []string{s.ident.ID}, nil }

type fixture struct {
	chat     *Chat
	store    *recordstore.MemoryStore
	messages *content.Collection[models.Message]
	events   *content.Collection[models.Event]
	vendors  *content.Collection[models.Vendor]
	me       *stubIdentity
}

func newFixture(t *testing.T, confirmer confirm.Confirmer) *fixture {
	t.Helper()
	store := recordstore.NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	store.SetClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	})

	me := &stubIdentity{ident: models.Identity{ID: "anon_me", DisplayName: "Visitante", Kind: models.IdentityAnonymous}}
	f := &fixture{store: store, me: me}
	f.messages = content.NewCollection(content.MessageSchema(100), store.Table(content.CollectionMessages), me, nil, zerolog.Nop())
	f.events = content.NewCollection(content.EventSchema(), store.Table(content.CollectionEvents), me, nil, zerolog.Nop())
	f.vendors = content.NewCollection(content.VendorSchema(), store.Table(content.CollectionVendors), me, nil, zerolog.Nop())
	f.chat = NewChat(f.messages, f.events, f.vendors, me, confirmer, zerolog.Nop())
	return f
}

// postAs inserts a message authored by someone else
func (f *fixture) postAs(t *testing.T, author, text string) {
	t.Helper()
	row := `{"creator_ref":"` + author + `","sender_name":"` + author + `","text":"` + text + `"}`
	_, err := f.store.Table(content.CollectionMessages).Insert(context.Background(), recordstore.Row(row))
	require.NoError(t, err)
}

func TestVisibleFeedOrdersByCreatedAt(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var msgs []models.Message
	for i := 0; i < 50; i++ {
		msgs = append(msgs, models.Message{
			ID:        string(rune('a' + i%26)),
			AuthorRef: []string{"u1", "u2", "u3"}[i%3],
			CreatedAt: base.Add(time.Duration(rand.Intn(20)) * time.Second),
		})
	}
	input := append([]models.Message(nil), msgs...)

	blocks := NewBlockList()
	blocks.add("u2")
	feed := VisibleFeed(msgs, blocks)

	for i := 1; i < len(feed); i++ {
		assert.False(t, feed[i].CreatedAt.Before(feed[i-1].CreatedAt), "feed must be non-decreasing in created_at")
	}
	for _, m := range feed {
		assert.NotEqual(t, "u2", m.AuthorRef)
	}
	assert.Equal(t, input, msgs, "input is not modified")
}

func TestSendNoopOnBlank(t *testing.T) {
	f := newFixture(t, confirm.Always(true))
	msg, err := f.chat.Send(context.Background(), SendRequest{Text: "   \n"})
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Empty(t, f.chat.Feed())
}

func TestSendWithAttachmentOnly(t *testing.T) {
	f := newFixture(t, confirm.Always(true))
	att := models.Attachment{MIMEType: "audio/webm", EncodedPayload: "AAAA", MediaKind: models.MediaAudio, PreviewRef: "data:audio/webm;base64,AAAA"}

	msg, err := f.chat.Send(context.Background(), SendRequest{Attachments: []models.Attachment{att}})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "anon_me", msg.AuthorRef)
	assert.Equal(t, "Visitante", msg.DisplayName)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, models.MediaAudio, msg.Attachments[0].MediaKind)
	assert.True(t, f.chat.IsMine(*msg))
}

func TestReplySnapshotSurvivesDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirm.Always(true))

	original, err := f.chat.Send(ctx, SendRequest{Text: "Alguém vai no forró?"})
	require.NoError(t, err)
	reply, err := f.chat.Send(ctx, SendRequest{Text: "Eu vou!", ReplyTo: original})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, original.ID, reply.ReplyTo.MessageID)

	deleted, err := f.chat.Delete(ctx, original.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	feed := f.chat.Feed()
	require.Len(t, feed, 1)
	assert.Equal(t, "Alguém vai no forró?", feed[0].ReplyTo.Text)
	assert.Equal(t, "Visitante", feed[0].ReplyTo.DisplayName)
}

func TestDeleteDeclinedOrForeign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirm.Always(false))
	msg, err := f.chat.Send(ctx, SendRequest{Text: "oi"})
	require.NoError(t, err)

	deleted, err := f.chat.Delete(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Len(t, f.chat.Feed(), 1)

	f.chat.confirm = confirm.Always(true)
	f.postAs(t, "u2", "not yours")
	_, err = f.chat.Refresh(ctx)
	require.NoError(t, err)
	for _, m := range f.chat.Feed() {
		if m.AuthorRef == "u2" {
			assert.False(t, f.chat.IsMine(m))
			_, err := f.chat.Delete(ctx, m.ID)
			assert.True(t, errors.Is(err, apperr.ErrPermission))
		}
	}
}

func TestBlockHidesAuthorAfterConfirmation(t *testing.T) {
	ctx := context.Background()
	var asked []string
	f := newFixture(t, confirm.Func(func(_ context.Context, q string) (bool, error) {
		asked = append(asked, q)
		return len(asked) > 1, nil // decline the first time
	}))

	f.postAs(t, "u2", "spam")
	f.postAs(t, "u3", "olá")
	feed, err := f.chat.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, feed, 2)

	blocked, err := f.chat.Block(ctx, "u2", "Spammer")
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Len(t, f.chat.Feed(), 2)

	blocked, err = f.chat.Block(ctx, "u2", "Spammer")
	require.NoError(t, err)
	assert.True(t, blocked)
	feed = f.chat.Feed()
	require.Len(t, feed, 1)
	assert.Equal(t, "u3", feed[0].AuthorRef)
	assert.Equal(t, []string{"u2"}, f.chat.Blocked().Refs())

	// blocked is a view filter: the row is still in the collection
	assert.Len(t, f.messages.Items(), 2)

	// already blocked: no second prompt
	blocked, err = f.chat.Block(ctx, "u2", "Spammer")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Len(t, asked, 2)

	_, err = f.chat.Block(ctx, "anon_me", "me")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestResolveMention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, confirm.Always(true))

	ev, err := f.events.Create(ctx, models.Event{ListingBase: models.ListingBase{Title: "Sarau"}, StartTime: time.Now().UTC()})
	require.NoError(t, err)
	price := decimal.NewFromInt(12)
	v, err := f.vendors.Create(ctx, models.Vendor{
		ListingBase: models.ListingBase{Title: "Pastelaria"},
		HasCatalog:  true,
		Products:    []models.Product{{ID: "p1", Name: "Pastel", Price: &price}},
	})
	require.NoError(t, err)

	target, ok := f.chat.ResolveMention(EventMention(ev))
	require.True(t, ok)
	assert.Equal(t, "Sarau", target.Event.Title)

	target, ok = f.chat.ResolveMention(ProductMention(v, v.Products[0]))
	require.True(t, ok)
	assert.Equal(t, "Pastelaria", target.Vendor.Title)
	assert.Equal(t, "Pastel", target.Product.Name)

	_, ok = f.chat.ResolveMention(models.Mention{ID: "gone", Kind: models.MentionEvent, Label: "Old"})
	assert.False(t, ok, "unresolved mentions are inert")
}

func TestAuthorHue(t *testing.T) {
	_, ok := AuthorHue("")
	assert.False(t, ok)

	tests := []struct {
		ref string
		hue int
	}{
		{"a", 97},
		{"ab", 225},
	}
	for _, tt := range tests {
		hue, ok := AuthorHue(tt.ref)
		require.True(t, ok)
		assert.Equal(t, tt.hue, hue, tt.ref)
	}

	h1, _ := AuthorHue("anon_01hzx")
	h2, _ := AuthorHue("anon_01hzx")
	assert.Equal(t, h1, h2)
	assert.True(t, h1 >= 0 && h1 < 360)
}
