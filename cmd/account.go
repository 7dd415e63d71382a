package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tupa/internal/app"
	"github.com/tupa/internal/attachment"
	"github.com/tupa/internal/identity"
)

// WhoamiCommand returns the whoami command
func WhoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the active identity",
		Action: withEngine(func(ctx context.Context, e *app.Engine) error {
			ident, err := e.Identity.Resolve()
			if err != nil {
				return err
			}
			if ident.IsAnonymous() {
				fmt.Printf("%s (convidado, %s)\n", ident.DisplayName, ident.ID)
				return nil
			}
			fmt.Printf("%s <%s> (%s)\n", ident.DisplayName, ident.Email, ident.ID)
			return nil
		}),
	}
}

// RegisterCommand returns the register command
func RegisterCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create a profile on this device and log in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name", Required: true},
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Email address", Required: true},
			&cli.StringFlag{Name: "password", Usage: "Password", Required: true, EnvVars: []string{"TUPA_PASSWORD"}},
			&cli.StringFlag{Name: "confirm", Usage: "Password confirmation", Required: true},
			&cli.StringFlag{Name: "avatar", Usage: "Avatar image `FILE`", Required: true},
		},
		Action: func(c *cli.Context) error {
			engine, cleanup, err := openEngine(c, app.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			avatar, err := engine.Attachments.Encode(c.Context, attachment.LocalFile{Path: c.String("avatar")})
			if err != nil {
				return fmt.Errorf("failed to read avatar: %w", err)
			}
			ident, err := engine.Identity.Register(identity.RegisterRequest{
				Name:         c.String("name"),
				Email:        c.String("email"),
				Password:     c.String("password"),
				Confirmation: c.String("confirm"),
				AvatarRef:    avatar.PreviewRef,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Bem-vindo(a), %s!\n", ident.DisplayName)
			return nil
		},
	}
}

// LoginCommand returns the login command
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in with a profile registered on this device",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Email address", Required: true},
			&cli.StringFlag{Name: "password", Usage: "Password", Required: true, EnvVars: []string{"TUPA_PASSWORD"}},
		},
		Action: func(c *cli.Context) error {
			engine, cleanup, err := openEngine(c, app.Options{})
			if err != nil {
				return err
			}
			defer cleanup()

			ident, err := engine.Identity.Login(c.String("email"), c.String("password"))
			if err != nil {
				return err
			}
			fmt.Printf("Olá, %s!\n", ident.DisplayName)
			return nil
		},
	}
}

// LogoutCommand returns the logout command
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Return to the guest identity",
		Action: withEngine(func(ctx context.Context, e *app.Engine) error {
			if err := e.Identity.Logout(); err != nil {
				return err
			}
			fmt.Println("Sessão encerrada")
			return nil
		}),
	}
}
