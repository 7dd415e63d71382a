package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/tupa/internal/app"
	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/attachment"
	"github.com/tupa/internal/commerce"
	"github.com/tupa/internal/confirm"
	"github.com/tupa/internal/handoff"
	"github.com/tupa/internal/listing"
	"github.com/tupa/internal/messaging"
	"github.com/tupa/pkg/models"
)

// ShellCommand returns the interactive session command
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Start an interactive session with live polling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on `ADDR` (e.g. :9100)",
			},
		},
		Action: runShell,
	}
}

func runShell(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	c.Context = ctx

	prompt := confirm.NewPrompt(os.Stdin, os.Stdout)
	engine, cleanup, err := openEngine(c, app.Options{
		Confirmer: prompt,
		Launcher:  handoff.PrintLauncher{Out: os.Stdout},
	})
	if err != nil {
		return err
	}
	defer cleanup()

	if addr := c.String("metrics-addr"); addr != "" {
		srv := metricsServer(engine)
		go func() {
			if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server stopped: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	engine.Poller.Start(ctx)
	return NewShell(engine, prompt.Reader(), os.Stdout).Run(ctx)
}

func metricsServer(e *app.Engine) *echo.Echo {
	srv := echo.New()
	srv.HideBanner = true
	srv.HidePort = true
	srv.GET("/metrics", echo.WrapHandler(e.Metrics.Handler()))
	return srv
}

// Shell is a line-oriented session over an engine
type Shell struct {
	engine *app.Engine
	in     *bufio.Reader
	out    io.Writer
	staged []models.Attachment
	cmds   map[string]shellCmd
}

type shellCmd struct {
	usage string
	run   func(ctx context.Context, args string) error
}

// NewShell creates a shell reading commands from in
func NewShell(engine *app.Engine, in *bufio.Reader, out io.Writer) *Shell {
	s := &Shell{engine: engine, in: in, out: out}
	s.cmds = map[string]shellCmd{
		"help":     {"help", s.help},
		"whoami":   {"whoami", s.whoami},
		"refresh":  {"refresh", s.refresh},
		"poll":     {"poll [on|off]", s.poll},
		"feed":     {"feed", s.feed},
		"send":     {"send TEXT", s.send},
		"attach":   {"attach FILE | attach rm N | attach clear", s.attach},
		"reply":    {"reply ID TEXT", s.reply},
		"block":    {"block MESSAGE_ID", s.block},
		"rm":       {"rm MESSAGE_ID", s.deleteMessage},
		"events":   {"events [mine]", s.events},
		"vendors":  {"vendors [mine]", s.vendors},
		"ticket":   {"ticket EVENT_ID", s.ticket},
		"buy":      {"buy VENDOR_ID PRODUCT_ID", s.buy},
		"cart":     {"cart", s.cart},
		"add":      {"add VENDOR_ID PRODUCT_ID", s.add},
		"remove":   {"remove PRODUCT_ID", s.remove},
		"checkout": {"checkout", s.checkout},
		"new":      {"new event|vendor", s.newListing},
		"edit":     {"edit LISTING_ID", s.edit},
		"set":      {"set FIELD VALUE", s.set},
		"product":  {"product add NAME PRICE | product rm ID", s.product},
		"form":     {"form", s.form},
		"submit":   {"submit", s.submit},
		"cancel":   {"cancel", s.cancel},
		"delete":   {"delete LISTING_ID", s.deleteListing},
	}
	return s
}

// Run reads commands until quit, EOF or ctx ends
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, "TUPÃ: digite 'help' para ver os comandos.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "tupã> ")
		line, err := s.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		done := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if line == "quit" || line == "exit" {
			return nil
		}
		if line != "" {
			s.Exec(ctx, line)
		}
		if done {
			return nil
		}
	}
}

// Exec runs one command line and prints any error
func (s *Shell) Exec(ctx context.Context, line string) {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	cmd, ok := s.cmds[name]
	if !ok {
		fmt.Fprintf(s.out, "comando desconhecido: %s\n", name)
		return
	}
	if err := cmd.run(ctx, strings.TrimSpace(args)); err != nil {
		s.printErr(err)
	}
}

func (s *Shell) printErr(err error) {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]string, 0, len(verr.Fields))
		for f := range verr.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		fmt.Fprintln(s.out, "Corrija os campos:")
		for _, f := range fields {
			fmt.Fprintf(s.out, "  %s: %s\n", f, verr.Fields[f])
		}
	case errors.Is(err, apperr.ErrPermission):
		fmt.Fprintln(s.out, "Você não tem permissão para alterar este item.")
	case errors.Is(err, apperr.ErrBusy):
		fmt.Fprintln(s.out, "Aguarde a operação em andamento.")
	default:
		fmt.Fprintf(s.out, "erro: %v\n", err)
	}
}

func (s *Shell) help(ctx context.Context, args string) error {
	names := make([]string, 0, len(s.cmds))
	for n := range s.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(s.out, "  %s\n", s.cmds[n].usage)
	}
	fmt.Fprintln(s.out, "  quit")
	return nil
}

func (s *Shell) whoami(ctx context.Context, args string) error {
	ident, err := s.engine.Identity.Resolve()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s (%s)\n", ident.DisplayName, ident.Kind)
	return nil
}

func (s *Shell) refresh(ctx context.Context, args string) error {
	feed, err := s.engine.Chat.Refresh(ctx)
	if err != nil {
		return err
	}
	if err := errors.Join(s.engine.Events.Sync(ctx), s.engine.Vendors.Sync(ctx)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d mensagem(ns), %d evento(s), %d loja(s)\n",
		len(feed), len(s.engine.Events.Items()), len(s.engine.Vendors.Items()))
	return nil
}

func (s *Shell) poll(ctx context.Context, args string) error {
	switch args {
	case "on":
		s.engine.Poller.Start(ctx)
	case "off":
		s.engine.Poller.Stop()
	case "":
	default:
		return apperr.Invalid("poll", "use on or off")
	}
	if s.engine.Poller.Running() {
		fmt.Fprintln(s.out, "Atualização automática: ligada")
	} else {
		fmt.Fprintln(s.out, "Atualização automática: desligada")
	}
	return nil
}

func (s *Shell) feed(ctx context.Context, args string) error {
	feed := s.engine.Chat.Feed()
	if len(feed) == 0 {
		fmt.Fprintln(s.out, "Nenhuma mensagem ainda.")
	}
	for _, m := range feed {
		fmt.Fprint(s.out, formatMessage(m, s.engine.Chat.IsMine(m)))
	}
	return nil
}

func (s *Shell) attach(ctx context.Context, args string) error {
	op, rest, _ := strings.Cut(args, " ")
	switch op {
	case "":
		return apperr.Invalid("file", "required")
	case "clear":
		s.staged = nil
		fmt.Fprintln(s.out, "Anexos removidos")
		return nil
	case "rm":
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n < 1 || n > len(s.staged) {
			return apperr.Invalid("attachment", fmt.Sprintf("use a number from 1 to %d", len(s.staged)))
		}
		s.staged = slices.Delete(s.staged, n-1, n)
		fmt.Fprintf(s.out, "%d anexo(s) prontos\n", len(s.staged))
		return nil
	}
	att, err := s.engine.Attachments.Encode(ctx, attachment.LocalFile{Path: args})
	if err != nil {
		return err
	}
	s.staged = append(s.staged, att)
	fmt.Fprintf(s.out, "%d anexo(s) prontos\n", len(s.staged))
	return nil
}

func (s *Shell) send(ctx context.Context, args string) error {
	return s.post(ctx, messaging.SendRequest{Text: args})
}

func (s *Shell) reply(ctx context.Context, args string) error {
	id, text, _ := strings.Cut(args, " ")
	target, ok := s.findMessage(id)
	if !ok {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, id)
	}
	return s.post(ctx, messaging.SendRequest{Text: text, ReplyTo: &target})
}

func (s *Shell) post(ctx context.Context, req messaging.SendRequest) error {
	req.Attachments = s.staged
	msg, err := s.engine.Chat.Send(ctx, req)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	s.staged = nil
	fmt.Fprintf(s.out, "Enviado [%s]\n", shortID(msg.ID))
	return nil
}

func (s *Shell) block(ctx context.Context, args string) error {
	m, ok := s.findMessage(args)
	if !ok {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, args)
	}
	blocked, err := s.engine.Chat.Block(ctx, m.AuthorRef, m.DisplayName)
	if err != nil {
		return err
	}
	if blocked {
		fmt.Fprintf(s.out, "%s bloqueado(a) nesta sessão\n", m.DisplayName)
	}
	return nil
}

func (s *Shell) deleteMessage(ctx context.Context, args string) error {
	m, ok := s.findMessage(args)
	if !ok {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, args)
	}
	_, err := s.engine.Chat.Delete(ctx, m.ID)
	return err
}

func (s *Shell) events(ctx context.Context, args string) error {
	events := s.engine.Events.Items()
	if args == "mine" {
		refs, err := s.engine.Identity.OwnerRefs()
		if err != nil {
			return err
		}
		events = s.engine.Events.Mine(refs)
	}
	for _, ev := range events {
		fmt.Fprint(s.out, formatEvent(ev))
	}
	return nil
}

func (s *Shell) vendors(ctx context.Context, args string) error {
	vendors := s.engine.Vendors.Items()
	if args == "mine" {
		refs, err := s.engine.Identity.OwnerRefs()
		if err != nil {
			return err
		}
		vendors = s.engine.Vendors.Mine(refs)
	}
	for _, v := range vendors {
		fmt.Fprint(s.out, formatVendor(v))
	}
	return nil
}

func (s *Shell) ticket(ctx context.Context, args string) error {
	ev, ok := s.findEvent(args)
	if !ok {
		return fmt.Errorf("%w: event %s", apperr.ErrNotFound, args)
	}
	if ev.HasTickets() {
		return s.engine.BuyTicket(ctx, ev)
	}
	return s.engine.ContactEvent(ctx, ev)
}

func (s *Shell) vendorProduct(args string) (models.Vendor, models.Product, error) {
	vendorID, productID, _ := strings.Cut(args, " ")
	v, ok := s.findVendor(vendorID)
	if !ok {
		return models.Vendor{}, models.Product{}, fmt.Errorf("%w: vendor %s", apperr.ErrNotFound, vendorID)
	}
	p, ok := findByPrefix(v.Products, func(p *models.Product) string { return p.ID }, strings.TrimSpace(productID))
	if !ok {
		return v, models.Product{}, fmt.Errorf("%w: product %s", apperr.ErrNotFound, productID)
	}
	return v, p, nil
}

func (s *Shell) buy(ctx context.Context, args string) error {
	v, p, err := s.vendorProduct(args)
	if err != nil {
		return err
	}
	return s.engine.BuyProduct(ctx, v, p)
}

func (s *Shell) add(ctx context.Context, args string) error {
	v, p, err := s.vendorProduct(args)
	if err != nil {
		return err
	}
	changed, err := s.engine.Cart.AddToCart(ctx, p, v.ID)
	if err != nil {
		return err
	}
	if !changed && !p.Purchasable() {
		fmt.Fprintln(s.out, "Este produto não está à venda.")
	}
	return s.cart(ctx, "")
}

func (s *Shell) remove(ctx context.Context, args string) error {
	lines := s.engine.Cart.Lines()
	line, ok := findByPrefix(lines, func(l *models.CartLine) string { return l.ProductID }, args)
	if !ok {
		return fmt.Errorf("%w: cart line %s", apperr.ErrNotFound, args)
	}
	s.engine.Cart.RemoveFromCart(line.ProductID)
	return s.cart(ctx, "")
}

func (s *Shell) cart(ctx context.Context, args string) error {
	lines := s.engine.Cart.Lines()
	if len(lines) == 0 {
		fmt.Fprintln(s.out, "Carrinho vazio.")
		return nil
	}
	for _, l := range lines {
		fmt.Fprintf(s.out, "  [%s] %dx %s = %s\n", shortID(l.ProductID), l.Quantity, l.ProductName, commerce.Money(l.Subtotal()))
	}
	fmt.Fprintf(s.out, "  Total: %s\n", commerce.Money(commerce.Total(lines)))
	return nil
}

func (s *Shell) checkout(ctx context.Context, args string) error {
	vendorID := s.engine.Cart.VendorID()
	if vendorID == "" {
		fmt.Fprintln(s.out, "Carrinho vazio.")
		return nil
	}
	v, ok := s.engine.Vendors.Get(vendorID)
	if !ok {
		return fmt.Errorf("%w: vendor %s", apperr.ErrNotFound, vendorID)
	}
	_, err := s.engine.Checkout.Checkout(ctx, v)
	return err
}

func (s *Shell) newListing(ctx context.Context, args string) error {
	var kind models.ListingKind
	switch args {
	case "event", "evento":
		kind = models.KindEvent
	case "vendor", "loja":
		kind = models.KindVendor
	default:
		return apperr.Invalid("kind", "use event or vendor")
	}
	if err := s.engine.Listings.OpenCreate(ctx, kind); err != nil {
		return err
	}
	return s.form(ctx, "")
}

func (s *Shell) edit(ctx context.Context, args string) error {
	l, ok := s.findListing(args)
	if !ok {
		return fmt.Errorf("%w: listing %s", apperr.ErrNotFound, args)
	}
	if err := s.engine.Listings.OpenEdit(ctx, l); err != nil {
		return err
	}
	return s.form(ctx, "")
}

func (s *Shell) deleteListing(ctx context.Context, args string) error {
	l, ok := s.findListing(args)
	if !ok {
		return fmt.Errorf("%w: listing %s", apperr.ErrNotFound, args)
	}
	_, err := s.engine.Listings.Delete(ctx, l)
	return err
}

func parsePrice(v string) (*decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.Replace(strings.TrimSpace(v), ",", ".", 1))
	if err != nil {
		return nil, apperr.Invalid("price", "not a number")
	}
	return &d, nil
}

func (s *Shell) set(ctx context.Context, args string) error {
	field, value, _ := strings.Cut(args, " ")
	value = strings.TrimSpace(value)
	wf := s.engine.Listings

	if field == "cover" {
		applied, err := wf.SetCover(ctx, attachment.LocalFile{Path: value})
		if err == nil && !applied {
			fmt.Fprintln(s.out, "O formulário foi fechado; capa descartada.")
		}
		return err
	}

	switch wf.Draft().(type) {
	case *listing.EventDraft:
		var setErr error
		err := wf.UpdateEvent(func(d *listing.EventDraft) {
			switch field {
			case "title":
				d.Title = value
			case "description":
				d.Description = value
			case "contact":
				d.ContactChannel = value
			case "location":
				d.LocationName = value
			case "date":
				d.Date = value
			case "time":
				d.Time = value
			case "tickets":
				if value == "off" {
					d.TicketsEnabled, d.TicketPrice = false, nil
					return
				}
				d.TicketsEnabled = true
				d.TicketPrice, setErr = parsePrice(value)
			default:
				setErr = apperr.Invalid(field, "unknown event field")
			}
		})
		if err != nil {
			return err
		}
		return setErr
	case *listing.VendorDraft:
		var setErr error
		err := wf.UpdateVendor(func(d *listing.VendorDraft) {
			switch field {
			case "name":
				d.Name = value
			case "description":
				d.Description = value
			case "contact":
				d.ContactChannel = value
			case "category":
				d.Category = value
			case "catalog":
				d.HasCatalog = value == "on"
			default:
				setErr = apperr.Invalid(field, "unknown vendor field")
			}
		})
		if err != nil {
			return err
		}
		return setErr
	}
	return listing.ErrNoDraft
}

func (s *Shell) product(ctx context.Context, args string) error {
	op, rest, _ := strings.Cut(args, " ")
	switch op {
	case "add":
		i := strings.LastIndex(rest, " ")
		if i < 0 {
			return apperr.Invalid("product", "use: product add NAME PRICE")
		}
		price, err := parsePrice(rest[i+1:])
		if err != nil {
			return err
		}
		p, err := s.engine.Listings.AddProduct(rest[:i], price)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Produto [%s] adicionado\n", shortID(p.ID))
		return nil
	case "rm":
		d, ok := s.engine.Listings.Draft().(*listing.VendorDraft)
		if !ok {
			return listing.ErrNoDraft
		}
		p, ok := findByPrefix(d.Products, func(p *listing.DraftProduct) string { return p.ID }, strings.TrimSpace(rest))
		if !ok {
			return fmt.Errorf("%w: product %s", apperr.ErrNotFound, rest)
		}
		_, err := s.engine.Listings.RemoveProduct(ctx, p.ID)
		return err
	}
	return apperr.Invalid("product", "use add or rm")
}

func (s *Shell) form(ctx context.Context, args string) error {
	switch d := s.engine.Listings.Draft().(type) {
	case *listing.EventDraft:
		fmt.Fprintf(s.out, "Evento: title=%q contact=%q date=%s time=%s location=%q cover=%t",
			d.Title, d.ContactChannel, d.Date, d.Time, d.LocationName, d.CoverImage != "")
		if d.Coordinates != nil {
			fmt.Fprintf(s.out, " coords=%.4f,%.4f", d.Coordinates.Latitude, d.Coordinates.Longitude)
		}
		if d.TicketsEnabled && d.TicketPrice != nil {
			fmt.Fprintf(s.out, " tickets=%s", commerce.Money(*d.TicketPrice))
		}
		fmt.Fprintln(s.out)
	case *listing.VendorDraft:
		fmt.Fprintf(s.out, "Loja: name=%q contact=%q category=%s catalog=%t cover=%t\n",
			d.Name, d.ContactChannel, d.Category, d.HasCatalog, d.CoverImage != "")
		for _, p := range d.Products {
			price := "-"
			if p.Price != nil {
				price = commerce.Money(*p.Price)
			}
			fmt.Fprintf(s.out, "  - [%s] %s %s\n", shortID(p.ID), p.Name, price)
		}
	default:
		fmt.Fprintln(s.out, "Nenhum formulário aberto.")
	}
	return nil
}

func (s *Shell) submit(ctx context.Context, args string) error {
	l, err := s.engine.Listings.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Publicado [%s] %s\n", shortID(l.Base().ID), l.Base().Title)
	return nil
}

func (s *Shell) cancel(ctx context.Context, args string) error {
	s.engine.Listings.Close()
	return nil
}

func (s *Shell) findMessage(prefix string) (models.Message, bool) {
	return findByPrefix(s.engine.Chat.Feed(), func(m *models.Message) string { return m.ID }, strings.TrimSpace(prefix))
}

func (s *Shell) findEvent(prefix string) (models.Event, bool) {
	return findByPrefix(s.engine.Events.Items(), func(e *models.Event) string { return e.ID }, strings.TrimSpace(prefix))
}

func (s *Shell) findVendor(prefix string) (models.Vendor, bool) {
	return findByPrefix(s.engine.Vendors.Items(), func(v *models.Vendor) string { return v.ID }, strings.TrimSpace(prefix))
}

func (s *Shell) findListing(prefix string) (models.Listing, bool) {
	if ev, ok := s.findEvent(prefix); ok {
		return &ev, true
	}
	if v, ok := s.findVendor(prefix); ok {
		return &v, true
	}
	return nil, false
}
