package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tupa/internal/app"
	"github.com/tupa/internal/attachment"
	"github.com/tupa/internal/messaging"
	"github.com/tupa/pkg/models"
)

// FeedCommand returns the feed command
func FeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Show the community chat",
		Action: withEngine(func(ctx context.Context, e *app.Engine) error {
			printFeed(e)
			return nil
		}),
	}
}

// SendCommand returns the send command
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Post a message to the community chat",
		ArgsUsage: "TEXT",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "attach",
				Aliases: []string{"a"},
				Usage:   "Attach an image, video or audio `FILE` (repeatable)",
			},
			&cli.StringFlag{
				Name:    "reply-to",
				Aliases: []string{"r"},
				Usage:   "Reply to the message with this `ID` (prefix accepted)",
			},
		},
		Action: func(c *cli.Context) error {
			engine, cleanup, err := openEngine(c, app.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			req, err := buildSendRequest(c.Context, engine, strings.Join(c.Args().Slice(), " "), c.StringSlice("attach"), c.String("reply-to"))
			if err != nil {
				return err
			}
			msg, err := engine.Chat.Send(c.Context, req)
			if err != nil {
				return err
			}
			if msg == nil {
				return fmt.Errorf("nothing to send: provide text or --attach")
			}
			fmt.Printf("Enviado [%s]\n", shortID(msg.ID))
			return nil
		},
	}
}

// buildSendRequest encodes attachments and resolves the reply target. A file
// that fails to encode is reported and left out; the rest are still sent.
func buildSendRequest(ctx context.Context, e *app.Engine, text string, files []string, replyTo string) (messaging.SendRequest, error) {
	req := messaging.SendRequest{Text: text}

	if len(files) > 0 {
		sources := make([]attachment.Source, 0, len(files))
		for _, f := range files {
			sources = append(sources, attachment.LocalFile{Path: f})
		}
		for _, res := range e.Attachments.EncodeAll(ctx, sources) {
			if res.Err != nil {
				fmt.Printf("Ignorando %s: %v\n", res.Name, res.Err)
				continue
			}
			req.Attachments = append(req.Attachments, res.Attachment)
		}
	}

	if replyTo != "" {
		target, ok := findByPrefix(e.Chat.Feed(), func(m *models.Message) string { return m.ID }, replyTo)
		if !ok {
			return req, fmt.Errorf("message %s not found in the feed", replyTo)
		}
		req.ReplyTo = &target
	}
	return req, nil
}

func printFeed(e *app.Engine) {
	feed := e.Chat.Feed()
	if len(feed) == 0 {
		fmt.Println("Nenhuma mensagem ainda.")
		return
	}
	for _, m := range feed {
		fmt.Print(formatMessage(m, e.Chat.IsMine(m)))
	}
}

// EventsCommand returns the events command
func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List events",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "mine", Aliases: []string{"m"}, Usage: "Only events you created"},
		},
		Action: func(c *cli.Context) error {
			engine, cleanup, err := openEngine(c, app.Options{})
			if err != nil {
				return err
			}
			defer cleanup()
			return printEvents(engine, c.Bool("mine"))
		},
	}
}

// VendorsCommand returns the vendors command
func VendorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "vendors",
		Usage: "List shops and their catalogs",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "mine", Aliases: []string{"m"}, Usage: "Only listings you created"},
		},
		Action: func(c *cli.Context) error {
			engine, cleanup, err := openEngine(c, app.Options{})
			if err != nil {
				return err
			}
			defer cleanup()
			return printVendors(engine, c.Bool("mine"))
		},
	}
}

func printEvents(e *app.Engine, mine bool) error {
	events := e.Events.Items()
	if mine {
		refs, err := e.Identity.OwnerRefs()
		if err != nil {
			return err
		}
		events = e.Events.Mine(refs)
	}
	if len(events) == 0 {
		fmt.Println("Nenhum evento.")
	}
	for _, ev := range events {
		fmt.Print(formatEvent(ev))
	}
	return nil
}

func printVendors(e *app.Engine, mine bool) error {
	vendors := e.Vendors.Items()
	if mine {
		refs, err := e.Identity.OwnerRefs()
		if err != nil {
			return err
		}
		vendors = e.Vendors.Mine(refs)
	}
	if len(vendors) == 0 {
		fmt.Println("Nenhuma loja.")
	}
	for _, v := range vendors {
		fmt.Print(formatVendor(v))
	}
	return nil
}
