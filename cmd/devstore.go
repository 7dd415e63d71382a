package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tupa/internal/config"
	"github.com/tupa/internal/recordstore"
)

// DevStoreCommand returns the command that serves a local record store over REST
func DevStoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "devstore",
		Usage: "Serve a local record store speaking the hosted REST dialect",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the record store server",
				Value:   54321,
			},
			&cli.BoolFlag{
				Name:  "postgres",
				Usage: "Back the server with store.database_url instead of memory",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, logCloser, err := setupLogger(c, cfg)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var store recordstore.Store = recordstore.NewMemoryStore()
			if c.Bool("postgres") {
				if cfg.Store.DatabaseURL == "" {
					return fmt.Errorf("store.database_url is required with --postgres")
				}
				pg, err := recordstore.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
				if err != nil {
					return fmt.Errorf("failed to connect to record store: %w", err)
				}
				store = pg
			}
			defer store.Close()

			port := c.Int("port")
			fmt.Printf("Starting TUPÃ dev record store on port %d...\n", port)
			server := recordstore.NewDevServer(store, recordstore.DevServerOptions{
				Port:      port,
				APIKey:    cfg.Store.APIKey,
				JWTSecret: cfg.Store.JWTSecret,
			}, logger)
			return server.Start(ctx)
		},
	}
}
