package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"megaphone"
	"megaphone/internal/dispatch"
	"megaphone/internal/eventbus"
	"megaphone/internal/registry"
	"megaphone/internal/store"
	"megaphone/internal/tagfilter"
	"megaphone/internal/target"
	"megaphone/pkg/logx"
	"megaphone/plugins/telegram"
	"megaphone/plugins/webhook"
)

type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	var (
		urls    listFlag
		tags    listFlag
		title   = flag.String("title", "", "notification title")
		body    = flag.String("body", "", "notification body ('-' reads stdin)")
		format  = flag.String("format", "text", "body format: text|markdown|html")
		cfgPath = flag.String("config", "", "path to a config file with urls")
		depth   = flag.Int("recursion-depth", 1, "how many include levels to follow")
		seq     = flag.Bool("sequential", false, "send one target at a time")
		follow  = flag.Bool("follow", false, "keep running: each stdin line is one notification, config hot-reloads")
		timeout = flag.Duration("timeout", 0, "overall batch deadline (0 = none)")
		details = flag.Bool("details", false, "print registered schemes and exit")
		level   = flag.String("log-level", "info", "log level")

		storagePath = flag.String("storage-path", "", "persistent store location (empty = memory mode)")
		storageMode = flag.String("storage-mode", "auto", "persistence mode: memory|auto|flush")
		storageDrv  = flag.String("storage-driver", "disk", "persistence backend: disk|sqlite")
		storageOp   = flag.String("storage", "", "store maintenance: list|prune|clean")
		pruneDays   = flag.Int("prune-days", 30, "prune namespaces idle longer than this many days")
	)
	flag.Var(&urls, "url", "target address (repeatable)")
	flag.Var(&tags, "tag", "tag filter; repeat for OR, comma-join for AND")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, log := logx.New(logx.Config{Level: *level, Console: true})
	defer svc.Close()

	reg := registry.New()
	if err := webhook.Register(reg); err != nil {
		fatal(log, err)
	}
	if err := telegram.Register(reg); err != nil {
		fatal(log, err)
	}

	st, err := store.New(store.Config{
		Mode:   store.Mode(*storageMode),
		Driver: *storageDrv,
		Path:   *storagePath,
	}, log)
	if err != nil {
		fatal(log, err)
	}
	defer st.Close()

	app := megaphone.New(reg, st, log)

	if *details {
		printDetails(app)
		return
	}

	for _, raw := range flag.Args() {
		urls = append(urls, raw)
	}
	for _, raw := range urls {
		if err := app.Add(raw); err != nil {
			log.Warn("target not loaded", logx.String("url", raw), logx.Err(err))
		}
	}
	if *cfgPath != "" {
		if ok, err := app.AddConfig(*cfgPath, *depth); err != nil {
			fatal(log, err)
		} else if !ok {
			log.Warn("some config entries did not load", logx.String("path", *cfgPath))
		}
	}

	if *storageOp != "" {
		if err := runStorageOp(ctx, app, *storageOp, *pruneDays); err != nil {
			fatal(log, err)
		}
		return
	}

	opts := dispatch.Options{
		Filter: tagfilter.Parse(tags...),
		Mode:   dispatch.Concurrent,
	}
	if *seq {
		opts.Mode = dispatch.Sequential
	}

	if *follow {
		if err := runFollow(ctx, app, *title, target.BodyFormat(*format), opts, *cfgPath, *depth, log); err != nil {
			fatal(log, err)
		}
		return
	}

	text := *body
	if text == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal(log, err)
		}
		text = string(b)
	}

	if *timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, *timeout)
		defer tcancel()
	}

	// Print outcomes as they complete rather than all at the end.
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range events {
			o, ok := e.Data.(dispatch.Outcome)
			if !ok {
				continue
			}
			line := fmt.Sprintf("%-10s %s://  %s", o.Status, o.Scheme, o.Identity)
			if o.Reason != "" {
				line += "  (" + o.Reason + ")"
			}
			fmt.Println(line)
		}
	}()

	opts.Bus = bus
	rep := app.Notify(ctx, target.Message{
		Title:  *title,
		Body:   text,
		Format: target.BodyFormat(*format),
	}, opts)

	unsub()
	<-drained
	fmt.Println("result:", rep.Result)

	switch rep.Result {
	case dispatch.AllDelivered:
	case dispatch.NoTargets, dispatch.NoMatch:
		os.Exit(2)
	default:
		os.Exit(1)
	}
}

// runFollow turns the process into a small relay: every stdin line
// becomes one notification, and the config file (if any) hot-reloads in
// the background while the relay runs.
func runFollow(ctx context.Context, app *megaphone.App, title string, format target.BodyFormat, opts dispatch.Options, cfgPath string, depth int, log logx.Logger) error {
	if cfgPath != "" {
		go func() {
			if err := app.WatchConfig(ctx, cfgPath, depth); err != nil {
				log.Warn("config watch stopped", logx.Err(err))
			}
		}()
	}

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		body := strings.TrimSpace(sc.Text())
		if body == "" {
			continue
		}
		rep := app.Notify(ctx, target.Message{Title: title, Body: body, Format: format}, opts)
		fmt.Printf("%s  delivered=%d failed=%d skipped=%d\n",
			rep.Result, rep.Delivered(), rep.Failed(), rep.Skipped())
	}
	return sc.Err()
}

func printDetails(app *megaphone.App) {
	for _, info := range app.Details() {
		scheme := info.Scheme
		if info.SecureScheme != "" {
			scheme += " / " + info.SecureScheme
		}
		caps := info.Caps
		fmt.Printf("%-16s title=%-5v attach=%-5v max_body=%d\n",
			scheme, caps.SupportsTitle, caps.SupportsAttachment, caps.MaxBodyLen)
	}
}

func runStorageOp(ctx context.Context, app *megaphone.App, op string, pruneDays int) error {
	st := app.Store()
	switch op {
	case "list":
		entries, err := app.StoreEntries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			age := "-"
			if !e.LastWrite.IsZero() {
				age = time.Since(e.LastWrite).Round(time.Minute).String()
			}
			fmt.Printf("%s  %-6s  %6d bytes  last write %s ago\n", e.Identity, e.State, e.Bytes, age)
		}
		return nil
	case "prune":
		removed, err := st.Prune(ctx, time.Duration(pruneDays)*24*time.Hour, app.Collection().Identities())
		if err != nil {
			return err
		}
		fmt.Println("pruned:", removed)
		return nil
	case "clean":
		removed, err := st.Clean(ctx)
		if err != nil {
			return err
		}
		fmt.Println("removed:", removed)
		return nil
	default:
		return fmt.Errorf("unknown storage op %q", op)
	}
}

func fatal(log logx.Logger, err error) {
	log.Error("fatal", logx.Err(err))
	os.Exit(1)
}
