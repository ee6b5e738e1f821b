package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/client"
	"github.com/erauner12/productsync/internal/config"
	"github.com/erauner12/productsync/internal/connectivity"
	"github.com/erauner12/productsync/internal/kvstore"
	"github.com/erauner12/productsync/internal/offlinequeue"
	"github.com/erauner12/productsync/internal/syncengine"
	"github.com/erauner12/productsync/internal/view"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	version = "0.1.0"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON)")
	showVersion = flag.Bool("version", false, "Show version information")
	devSub      = flag.String("dev-sub", "", "Authenticate as this subject against a dev mode server")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: productsync [flags] <command> [command flags]

Commands:
  list    show products (-search, -category, -page)
  save    create or update a product (-id, -version, -name, -price, -quantity, -category)
  watch   follow the catalog, printing it on every change

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("productsync version %s\n", version)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	setupLogging(cfg)

	log.Debug().
		Str("version", version).
		Str("apiBaseUrl", cfg.APIBaseURL).
		Bool("devMode", cfg.Token == "").
		Msg("Starting productsync")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error().Err(err).Str("kind", string(catalog.KindOf(err))).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig loads the configuration from file and environment
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	// Apply CLI flag overrides BEFORE validation
	if *devSub != "" {
		cfg.DevSub = *devSub
	}
	if *debug {
		cfg.Debug = true
		if *logLevel == "info" {
			cfg.LogLevel = "debug"
		}
	}
	if *logLevel != "info" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// setupLogging configures the global logger
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Console output for a person at a terminal, JSON when debugging pipelines
	if cfg.Debug {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// app holds the wired client components
type app struct {
	creds  client.Credentials
	http   *client.HTTPClient
	kv     kvstore.Store
	prober *connectivity.Prober
	live   *client.LiveDialer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, func(), error) {
	creds := client.Credentials{Token: cfg.Token, DevSub: cfg.DevSub}
	hc := client.NewHTTPClient(cfg.APIBaseURL, creds, log.Logger)

	cleanup := func() {}
	var kv kvstore.Store
	if cfg.RedisURL != "" {
		r, err := kvstore.NewRedis(ctx, cfg.RedisURL, "productsync:")
		if err != nil {
			return nil, nil, err
		}
		kv = r
		cleanup = func() { r.Close() }
	} else {
		f, err := kvstore.NewFile(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		kv = f
	}

	return &app{
		creds:  creds,
		http:   hc,
		kv:     kv,
		prober: connectivity.NewProber(strings.TrimRight(cfg.APIBaseURL, "/")+"/healthz", cfg.ProbeInterval(), log.Logger),
		live: &client.LiveDialer{
			URL:       cfg.LiveURL(),
			Creds:     creds,
			Logger:    log.Logger,
			OnWelcome: hc.SetLiveClient,
		},
	}, cleanup, nil
}

func (a *app) engine(monitor connectivity.Monitor, live syncengine.LiveOpener) *syncengine.Engine {
	return syncengine.New(syncengine.Options{
		Remote:  client.NewProductClient(a.http),
		Live:    live,
		KV:      a.kv,
		Queue:   offlinequeue.New(a.kv),
		Monitor: monitor,
		Logger:  log.Logger,
	})
}

// start loads local data first and then, if the server is reachable,
// replays queued writes and reloads. It returns the engine ready for one
// command; connectivity does not change afterwards.
func (a *app) start(ctx context.Context) (*syncengine.Engine, error) {
	eng := a.engine(connectivity.NewManual(connectivity.Offline), nil)

	if err := eng.Load(ctx, a.creds.LiveToken()); err != nil && catalog.KindOf(err) != catalog.KindNetwork {
		eng.Close()
		return nil, err
	}

	if status := a.prober.Check(ctx); status.Connected {
		if err := eng.OnConnectivityChanged(ctx, status); err != nil {
			log.Warn().Err(err).Msg("sync with server failed, showing local data")
		}
	} else {
		log.Warn().Msg("server unreachable, working offline")
	}
	return eng, nil
}

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	a, cleanup, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	switch command {
	case "list":
		return runList(ctx, a, args)
	case "save":
		return runSave(ctx, a, args)
	case "watch":
		return runWatch(ctx, a, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func queryFlags(fs *flag.FlagSet) func() view.Query {
	search := fs.String("search", "", "Only products whose name contains this text")
	category := fs.String("category", "", "Only products with this category")
	page := fs.Int("page", view.DefaultPageSize, "Products per page")
	return func() view.Query {
		return view.Query{Search: *search, Category: catalog.Category(*category), PageSize: *page}
	}
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	query := queryFlags(fs)
	all := fs.Bool("all", false, "Show every matching product instead of one page")
	fs.Parse(args)

	eng, err := a.start(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	q := query()
	if *all {
		q.PageSize = len(eng.Snapshot().Products) + 1
	}
	printSnapshot(os.Stdout, eng.Snapshot(), view.NewScroller(q))
	return nil
}

func runSave(ctx context.Context, a *app, args []string) error {
	p, set := parseSave(flag.NewFlagSet("save", flag.ExitOnError), args)

	eng, err := a.start(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Flags left out of an update keep the known record's values
	if p.Assigned() {
		for _, known := range eng.Snapshot().Products {
			if known.ID == p.ID {
				p = fillUnset(p, known, set)
				break
			}
		}
	}

	if err := eng.Save(ctx, p); err != nil {
		var ce *catalog.Error
		if errors.As(err, &ce) && ce.Kind == catalog.KindVersionConflict {
			return fmt.Errorf("product %s changed on the server (now version %d), reload and retry: %w", p.ID, ce.CurrentVersion, err)
		}
		return err
	}

	snap := eng.Snapshot()
	if snap.Connected {
		fmt.Println("saved")
	} else {
		fmt.Printf("saved offline, %d write(s) waiting for the server\n", snap.Pending)
	}
	return nil
}

// parseSave reads the save flags into a product and reports which flags
// were given on the command line
func parseSave(fs *flag.FlagSet, args []string) (catalog.Product, map[string]bool) {
	id := fs.String("id", "", "Product id to update; empty creates a product")
	ver := fs.Int("version", 0, "Version last seen, checked by the server on update")
	name := fs.String("name", "", "Product name")
	price := fs.Float64("price", 0, "Price")
	quantity := fs.Int("quantity", 0, "Quantity")
	category := fs.String("category", "", "Category (Food, Electronics, Books, Clothes)")
	fs.Parse(args)

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	return catalog.Product{
		ID:       *id,
		Name:     *name,
		Price:    *price,
		Quantity: *quantity,
		Category: catalog.Category(*category),
		Version:  *ver,
	}, set
}

// fillUnset copies into p every field of known whose flag is not in set
func fillUnset(p, known catalog.Product, set map[string]bool) catalog.Product {
	if !set["name"] {
		p.Name = known.Name
	}
	if !set["price"] {
		p.Price = known.Price
	}
	if !set["quantity"] {
		p.Quantity = known.Quantity
	}
	if !set["category"] {
		p.Category = known.Category
	}
	if !set["version"] {
		p.Version = known.Version
	}
	return p
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	query := queryFlags(fs)
	fs.Parse(args)

	eng := a.engine(a.prober, a.live)
	defer eng.Close()

	if err := eng.Load(ctx, a.creds.LiveToken()); err != nil && catalog.KindOf(err) != catalog.KindNetwork {
		return err
	}
	go a.prober.Run(ctx)

	scroller := view.NewScroller(query())
	for {
		printSnapshot(os.Stdout, eng.Snapshot(), scroller)
		select {
		case <-eng.Changes():
		case <-ctx.Done():
			return nil
		}
	}
}

func printSnapshot(w io.Writer, snap syncengine.Snapshot, scroller *view.Scroller) {
	state := "offline"
	if snap.Connected {
		state = "online (" + snap.ConnectionType + ")"
	}
	fmt.Fprintf(w, "-- %s, %d pending", state, snap.Pending)
	if snap.Fetching {
		fmt.Fprint(w, ", fetching")
	}
	if snap.FetchErr != nil {
		fmt.Fprintf(w, ", last fetch failed: %v", snap.FetchErr)
	}
	if snap.SaveErr != nil {
		fmt.Fprintf(w, ", last save failed: %v", snap.SaveErr)
	}
	fmt.Fprintln(w)

	page := scroller.View(snap.Products)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tQTY\tCATEGORY\tVERSION")
	for _, p := range page.Items {
		id := p.ID
		if !p.Assigned() {
			id = "(unsaved)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\t%d\n", id, p.Name, p.Price, p.Quantity, p.Category, p.Version)
	}
	tw.Flush()

	if page.HasMore {
		fmt.Fprintf(w, "showing %d of %d\n", len(page.Items), page.Total)
	}
}
