// Command hotkeys-listen prints every notification seen on the hotkeyd bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"hotkeyd/internal/bus"
	"hotkeyd/internal/config"
	"hotkeyd/internal/logging"
)

type typeList []string

func (t *typeList) String() string { return strings.Join(*t, ",") }

func (t *typeList) Set(v string) error {
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*t = append(*t, part)
		}
	}
	return nil
}

func main() {
	fs := flag.NewFlagSet("hotkeys-listen", flag.ExitOnError)
	configPath := fs.String("config", "", "hotkeyd settings file used to find the bus")
	url := fs.String("url", "", "bus URL (overrides the settings file)")
	raw := fs.Bool("json", false, "print raw JSON frames")
	verbose := fs.Bool("v", false, "log connection events")
	var types typeList
	fs.Var(&types, "type", "only print these message types (repeatable, comma separated)")
	_ = fs.Parse(os.Args[1:])

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Setup(os.Stderr, level, nil)

	target := strings.TrimSpace(*url)
	if target == "" {
		target = busURL(*configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &printer{w: os.Stdout, raw: *raw}
	client := bus.NewClient(bus.ClientOptions{
		URL:       target,
		Subscribe: types,
		OnMessage: p.print,
	})
	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "hotkeys-listen: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "listening on %s\n", target)
	<-ctx.Done()
	_ = client.Stop()
}

// busURL derives the client URL from the daemon's settings. In hub mode the
// daemon serves on Addr, so that is where a listener connects.
func busURL(path string) string {
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("[WARN-CONFIG] settings load failed, using defaults", "path", path, "error", err)
	}
	if cfg.Bus.Mode == config.BusModeHub {
		return "ws://" + cfg.Bus.Addr + cfg.Bus.Path
	}
	return cfg.Bus.URL
}

type printer struct {
	mu  sync.Mutex
	w   io.Writer
	raw bool
	now func() time.Time
}

func (p *printer) print(msg bus.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.format(msg))
}

func (p *printer) format(msg bus.Message) string {
	if p.raw {
		payload, err := msg.Encode()
		if err != nil {
			return fmt.Sprintf("# unencodable %s: %v", msg.Type, err)
		}
		return string(payload)
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	var b strings.Builder
	b.WriteString(now().Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(msg.Type)
	if source, ok := msg.Context["source"].(string); ok && source != "" {
		b.WriteString(" source=" + source)
	}
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, msg.Data[k])
	}
	return b.String()
}
