package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/tupa/internal/app"
	"github.com/tupa/internal/commerce"
	"github.com/tupa/internal/config"
	"github.com/tupa/internal/logging"
	"github.com/tupa/internal/messaging"
	"github.com/tupa/pkg/models"
)

// loadConfig reads and validates the configuration named by --config
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogger configures the process logger from cfg and the global flags
func setupLogger(c *cli.Context, cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	level := cfg.Log.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	return logging.Setup(logging.Options{
		Level:  level,
		Pretty: cfg.Log.Pretty,
		LogDir: c.String("log-dir"),
		Out:    os.Stderr,
	})
}

// openEngine builds a mounted engine for one command run. The returned
// cleanup closes the engine and the log file.
func openEngine(c *cli.Context, opts app.Options) (*app.Engine, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logger, logCloser, err := setupLogger(c, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	engine, err := app.New(c.Context, cfg, logger, opts)
	if err != nil {
		logCloser.Close()
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}
	cleanup := func() {
		if err := engine.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close session cleanly")
		}
		logCloser.Close()
	}

	if msg := ephemeralStoreWarning(cfg, c.Command.Name); msg != "" {
		logger.Warn().Str("backend", cfg.Store.Backend).Msg(msg)
	}
	if err := engine.Mount(c.Context); err != nil {
		// partial loads are usable; each failed collection keeps its cache
		logger.Warn().Err(err).Msg("Some collections failed to load")
	}
	return engine, cleanup, nil
}

// ephemeralStoreWarning explains that a one-shot command on the memory
// backend starts and ends with an empty store. The shell keeps its store
// for the whole session and gets no warning.
func ephemeralStoreWarning(cfg *config.Config, command string) string {
	if cfg.Store.Backend != config.BackendMemory || command == "shell" {
		return ""
	}
	return `memory store is discarded when this command exits; run "tupa devstore" and set store.backend = "rest" with store.rest_url = "http://localhost:54321" to keep records between commands`
}

// withEngine runs fn against a mounted engine
func withEngine(fn func(ctx context.Context, e *app.Engine) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		engine, cleanup, err := openEngine(c, app.Options{})
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(c.Context, engine)
	}
}

// hueColor maps a hue in degrees onto the nearest xterm-256 colour
func hueColor(hue int) int {
	h := float64(hue%360) / 60
	x := 1 - abs(mod2(h)-1)
	var r, g, b float64
	switch int(h) {
	case 0:
		r, g, b = 1, x, 0
	case 1:
		r, g, b = x, 1, 0
	case 2:
		r, g, b = 0, 1, x
	case 3:
		r, g, b = 0, x, 1
	case 4:
		r, g, b = x, 0, 1
	default:
		r, g, b = 1, 0, x
	}
	level := func(v float64) int { return int(v*5 + 0.5) }
	return 16 + 36*level(r) + 6*level(g) + level(b)
}

func mod2(v float64) float64 {
	for v >= 2 {
		v -= 2
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// formatMessage renders one feed entry
func formatMessage(m models.Message, mine bool) string {
	var sb strings.Builder
	name := m.DisplayName
	if mine {
		name += " (você)"
	}
	if hue, ok := messaging.AuthorHue(m.AuthorRef); ok {
		name = fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", hueColor(hue), name)
	}
	fmt.Fprintf(&sb, "[%s] %s · %s\n", shortID(m.ID), name, humanize.Time(m.CreatedAt))
	if m.ReplyTo != nil {
		fmt.Fprintf(&sb, "  ↪ %s: %s\n", m.ReplyTo.DisplayName, truncate(m.ReplyTo.Text, 60))
	}
	if m.Text != "" {
		fmt.Fprintf(&sb, "  %s\n", m.Text)
	}
	for _, a := range m.Attachments {
		fmt.Fprintf(&sb, "  [%s %s, %s]\n", a.MediaKind, a.MIMEType, humanize.Bytes(uint64(a.SizeBytes)))
	}
	for _, mention := range m.Mentions {
		fmt.Fprintf(&sb, "  @%s (%s)\n", mention.Label, mention.Kind)
	}
	return sb.String()
}

func formatEvent(ev models.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n", shortID(ev.ID), ev.Title)
	fmt.Fprintf(&sb, "  %s · %s (%s)\n", ev.LocationName, ev.StartTime.Local().Format("02/01/2006 15:04"), humanize.Time(ev.StartTime))
	if ev.HasTickets() {
		fmt.Fprintf(&sb, "  Ingresso: %s\n", commerce.Money(ev.Ticketing.Price))
	}
	if ev.Description != "" {
		fmt.Fprintf(&sb, "  %s\n", ev.Description)
	}
	return sb.String()
}

func formatVendor(v models.Vendor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", shortID(v.ID), v.Title)
	if v.Category != "" {
		fmt.Fprintf(&sb, " (%s)", v.Category)
	}
	sb.WriteString("\n")
	for _, p := range v.Products {
		price := "sem preço"
		if p.Price != nil {
			price = commerce.Money(*p.Price)
		}
		fmt.Fprintf(&sb, "  - [%s] %s: %s\n", shortID(p.ID), p.Name, price)
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// findByPrefix resolves a full id from the short form printed by the CLI
func findByPrefix[T any](items []T, id func(*T) string, prefix string) (T, bool) {
	var zero T
	if prefix == "" {
		return zero, false
	}
	for i := range items {
		if strings.HasPrefix(id(&items[i]), prefix) {
			return items[i], true
		}
	}
	return zero, false
}
