package cmd

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tupa/internal/app"
	"github.com/tupa/internal/config"
	"github.com/tupa/internal/confirm"
	"github.com/tupa/internal/content"
	"github.com/tupa/internal/handoff"
	"github.com/tupa/internal/listing"
	"github.com/tupa/internal/recordstore"
	"github.com/tupa/internal/session"
	"github.com/tupa/pkg/models"
)

func newTestEngine(t *testing.T, out *bytes.Buffer) *app.Engine {
	t.Helper()
	return newTestEngineWithRecords(t, out, recordstore.NewMemoryStore())
}

func newTestEngineWithRecords(t *testing.T, out *bytes.Buffer, records recordstore.Store) *app.Engine {
	t.Helper()
	cfg, err := config.LoadConfig(t.TempDir() + "/tupa.toml")
	require.NoError(t, err)
	e, err := app.New(context.Background(), cfg, zerolog.Nop(), app.Options{
		Confirmer: confirm.Always(true),
		Launcher:  handoff.PrintLauncher{Out: out},
		Session:   session.NewMemoryStore(),
		Records:   records,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func runScript(t *testing.T, e *app.Engine, out *bytes.Buffer, lines ...string) {
	t.Helper()
	in := bufio.NewReader(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, NewShell(e, in, out).Run(context.Background()))
}

func TestShellChat(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, &out)

	runScript(t, e, &out, "send Bom dia, vizinhos!", "send   ", "feed")
	require.Len(t, e.Chat.Feed(), 1)
	assert.Contains(t, out.String(), "Bom dia, vizinhos!")
	assert.Contains(t, out.String(), "(você)")

	id := e.Chat.Feed()[0].ID
	runScript(t, e, &out, "reply "+id[:8]+" Bom dia!")
	feed := e.Chat.Feed()
	require.Len(t, feed, 2)
	require.NotNil(t, feed[1].ReplyTo)
	assert.Equal(t, id, feed[1].ReplyTo.MessageID)
}

func TestShellVendorAndCheckout(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, &out)

	require.NoError(t, e.Listings.OpenCreate(context.Background(), models.KindVendor))
	runScript(t, e, &out,
		"set name Pastelaria",
		"set contact +55 11 91234-5678",
		"set catalog on",
		"product add Pastel de queijo 12,50",
		"submit",
	)
	assert.Contains(t, out.String(), "cover_image: required", "no cover yet")
	require.Empty(t, e.Vendors.Items())

	// the form is intact after the failed submit
	require.NoError(t, e.Listings.UpdateVendor(func(d *listing.VendorDraft) { d.CoverImage = "data:image/png;base64,AA" }))
	runScript(t, e, &out, "submit")
	vendors := e.Vendors.Items()
	require.Len(t, vendors, 1)
	require.Len(t, vendors[0].Products, 1)
	assert.Equal(t, "Pastel de queijo", vendors[0].Products[0].Name)
	assert.Equal(t, "12.5", vendors[0].Products[0].Price.String())

	out.Reset()
	runScript(t, e, &out,
		"add "+vendors[0].ID[:8]+" "+vendors[0].Products[0].ID[:8],
		"add "+vendors[0].ID[:8]+" "+vendors[0].Products[0].ID[:8],
		"checkout",
	)
	assert.Contains(t, out.String(), "Total: R$ 25.00")
	assert.Contains(t, out.String(), "https://wa.me/5511912345678?text=")
	assert.Empty(t, e.Cart.Lines())
}

func TestShellUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, &out)
	runScript(t, e, &out, "dance", "quit", "send never")
	assert.Contains(t, out.String(), "comando desconhecido: dance")
	assert.Empty(t, e.Chat.Feed())
}

func TestHueColorInCube(t *testing.T) {
	for hue := 0; hue < 360; hue += 15 {
		c := hueColor(hue)
		assert.GreaterOrEqual(t, c, 16)
		assert.LessOrEqual(t, c, 231)
	}
	assert.Equal(t, 196, hueColor(0), "pure red")
}

func TestShellRefreshPicksUpRemoteMessages(t *testing.T) {
	var out bytes.Buffer
	records := recordstore.NewMemoryStore()
	e := newTestEngineWithRecords(t, &out, records)

	_, err := records.Table(content.CollectionMessages).Insert(context.Background(),
		recordstore.Row(`{"text":"Feira no sábado","creator_ref":"someone-else","sender_name":"Ana"}`))
	require.NoError(t, err)
	require.Empty(t, e.Chat.Feed())

	runScript(t, e, &out, "refresh")
	require.Len(t, e.Chat.Feed(), 1)
	assert.Contains(t, out.String(), "1 mensagem(ns), 0 evento(s), 0 loja(s)")
}

func TestShellPollToggle(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, &out)
	s := NewShell(e, bufio.NewReader(strings.NewReader("")), &out)
	ctx := context.Background()

	s.Exec(ctx, "poll on")
	assert.True(t, e.Poller.Running())
	assert.Contains(t, out.String(), "ligada")

	s.Exec(ctx, "poll off")
	assert.False(t, e.Poller.Running())
	assert.Contains(t, out.String(), "desligada")

	out.Reset()
	s.Exec(ctx, "poll sometimes")
	assert.Contains(t, out.String(), "poll: use on or off")
}

func TestShellAttachRemoveAndClear(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, &out)
	s := NewShell(e, bufio.NewReader(strings.NewReader("")), &out)
	ctx := context.Background()

	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), png, 0644))
		s.Exec(ctx, "attach "+filepath.Join(dir, name))
	}
	require.Len(t, s.staged, 3)
	first, last := s.staged[0], s.staged[2]

	s.Exec(ctx, "attach rm 2")
	require.Len(t, s.staged, 2)
	assert.Equal(t, first, s.staged[0])
	assert.Equal(t, last, s.staged[1])

	out.Reset()
	s.Exec(ctx, "attach rm 5")
	assert.Contains(t, out.String(), "attachment:")
	require.Len(t, s.staged, 2)

	s.Exec(ctx, "attach clear")
	assert.Empty(t, s.staged)

	s.Exec(ctx, "send só texto")
	feed := e.Chat.Feed()
	require.Len(t, feed, 1)
	assert.Empty(t, feed[0].Attachments)
}
