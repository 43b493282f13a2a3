// Command dpisieve reads a capture file (or a live NATS-backed frame
// stream), classifies each flow, applies a rule set, and writes the
// frames that survive to an output capture file (or a NATS subject).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dpisieve/internal/classify"
	"dpisieve/internal/engine"
	"dpisieve/internal/engineconfig"
	"dpisieve/internal/eventsink"
	"dpisieve/internal/flow"
	"dpisieve/internal/livesource"
	"dpisieve/internal/reader"
	"dpisieve/internal/ruleset"
	"dpisieve/internal/statusapi"
	"dpisieve/internal/writer"
	"dpisieve/pkg/capture"
)

// stringList collects a repeatable flag into a slice, the same role the
// reference CLI's repeated --block-ip/--block-app/--block-domain
// arguments play.
type stringList []string

func (l *stringList) String() string     { return fmt.Sprint(*l) }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	var blockIPs, blockApps, blockDomains stringList
	flag.Var(&blockIPs, "block-ip", "block a source IPv4 address (repeatable)")
	flag.Var(&blockApps, "block-app", "block an application tag by name (repeatable)")
	flag.Var(&blockDomains, "block-domain", "block a domain or *.suffix wildcard (repeatable)")

	rulesPath := flag.String("rules", "", "load additional rules from a rule file")
	configPath := flag.String("config", "", "engine tuning YAML (--lbs/--fps/etc override its values when set)")
	lbs := flag.Int("lbs", 0, "number of dispatcher goroutines")
	fps := flag.Int("fps", 0, "number of worker goroutines per dispatcher")
	queueSize := flag.Int("queue-size", 0, "bound on every queue in the pipeline")
	flowTableSize := flag.Int("flow-table-size", 0, "per-worker flow table capacity")
	flowIdle := flag.Duration("flow-idle", 0, "idle duration before a flow is swept")

	liveIn := flag.String("live-in", "", "NATS subject to read frames from instead of the input file (requires --nats-url)")
	liveOut := flag.String("live-out", "", "NATS subject to publish forwarded frames to instead of the output file")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL for --live-in/--live-out")

	httpAddr := flag.String("http", "", "if set, serve /healthz and /stats on this address")

	chHost := flag.String("clickhouse-host", "", "if set, record a run summary row to this ClickHouse host")
	chPort := flag.Int("clickhouse-port", 9000, "ClickHouse port")
	chDB := flag.String("clickhouse-db", "default", "ClickHouse database")
	chUser := flag.String("clickhouse-user", "default", "ClickHouse username")
	chPass := flag.String("clickhouse-pass", "", "ClickHouse password")

	verbose := flag.Bool("verbose", false, "add the source file:line to every log line (block verdicts are always logged)")

	flag.Usage = printUsage
	flag.Parse()

	if !*verbose {
		log.SetFlags(log.LstdFlags)
	} else {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	args := flag.Args()
	wantArgs := 2
	if *liveIn != "" {
		wantArgs--
	}
	if *liveOut != "" {
		wantArgs--
	}
	if len(args) < wantArgs {
		printUsage()
		os.Exit(2)
	}

	rules := ruleset.New()
	if err := applyRuleFlags(rules, blockIPs, blockApps, blockDomains); err != nil {
		log.Fatalf("dpisieve: %v", err)
	}
	if *rulesPath != "" {
		if err := rules.LoadFile(*rulesPath); err != nil {
			log.Fatalf("dpisieve: loading rule file: %v", err)
		}
	}

	ecfg, err := resolveEngineConfig(*configPath, *lbs, *fps, *queueSize, *flowTableSize, *flowIdle)
	if err != nil {
		log.Fatalf("dpisieve: %v", err)
	}

	src, closeSrc, err := openSource(args, *liveIn, *natsURL)
	if err != nil {
		log.Fatalf("dpisieve: %v", err)
	}
	defer closeSrc()

	sink, closeSink, err := openSink(args, *liveOut, *natsURL)
	if err != nil {
		log.Fatalf("dpisieve: %v", err)
	}
	defer closeSink()

	eng := engine.New(ecfg, rules, src, sink)

	var status *statusapi.Server
	if *httpAddr != "" {
		status = statusapi.New(*httpAddr, eng)
		status.Start()
	}

	var chSink *eventsink.Sink
	if *chHost != "" {
		chSink, err = eventsink.Open(eventsink.Config{
			Host: *chHost, Port: *chPort, Database: *chDB, Username: *chUser, Password: *chPass,
		}, 5*time.Second)
		if err != nil {
			log.Printf("dpisieve: clickhouse unavailable, continuing without event sink: %v", err)
			chSink = nil
		} else {
			defer chSink.Close()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("dpisieve: starting engine: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run() }()

	select {
	case err := <-runErr:
		if err != nil {
			log.Printf("dpisieve: reader stopped with error: %v", err)
		}
	case <-ctx.Done():
		log.Println("dpisieve: received shutdown signal")
	}

	eng.Stop()

	if status != nil {
		if err := status.Stop(5 * time.Second); err != nil {
			log.Printf("dpisieve: stopping status server: %v", err)
		}
	}

	if chSink != nil {
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 5*time.Second)
		st := eng.Stats()
		if err := chSink.RecordRunSummary(finalCtx, st.Reader.Read, st.Forwarded, st.Dropped, st.Reader.Skipped, 0, 0, 0); err != nil {
			log.Printf("dpisieve: recording run summary: %v", err)
		}
		finalCancel()
	}

	if e, ok := sink.(endable); ok {
		if err := e.End(); err != nil {
			log.Printf("dpisieve: signalling end of stream: %v", err)
		}
	}

	log.Println("dpisieve: done")
}

// endable is implemented by sinks that need an explicit end-of-stream
// marker, currently only the NATS live sink.
type endable interface {
	End() error
}

func applyRuleFlags(rules *ruleset.Set, ips, apps, domains stringList) error {
	for _, s := range ips {
		ip, err := flow.ParseIPv4(s)
		if err != nil {
			return fmt.Errorf("--block-ip %q: %w", s, err)
		}
		rules.BlockIP(ip)
	}
	for _, s := range apps {
		app, ok := classify.ByName(s)
		if !ok {
			return fmt.Errorf("--block-app %q: %w", s, ruleset.ErrUnknownApp)
		}
		rules.BlockApp(app)
	}
	for _, s := range domains {
		rules.BlockDomain(s)
	}
	return nil
}

func resolveEngineConfig(configPath string, lbs, fps, queueSize, flowTableSize int, flowIdle time.Duration) (engine.Config, error) {
	var cfg *engineconfig.Config
	if configPath != "" {
		var err error
		cfg, err = engineconfig.LoadFile(configPath)
		if err != nil {
			return engine.Config{}, err
		}
	} else {
		cfg = engineconfig.Default()
	}

	if lbs > 0 {
		cfg.Dispatchers = lbs
	}
	if fps > 0 {
		cfg.WorkersPerLB = fps
	}
	if queueSize > 0 {
		cfg.QueueSize = queueSize
	}
	if flowTableSize > 0 {
		cfg.FlowTableSize = flowTableSize
	}

	ec, err := cfg.ToEngineConfig()
	if err != nil {
		return engine.Config{}, err
	}
	if flowIdle > 0 {
		ec.FlowIdle = flowIdle
	}
	return ec, nil
}

func openSource(args []string, liveSubject, natsURL string) (reader.Source, func(), error) {
	if liveSubject != "" {
		src, err := livesource.NewSource(livesource.Config{URL: natsURL, Subject: liveSubject})
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	}

	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("opening input %q: %w", args[0], err)
	}
	r, err := capture.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading capture header from %q: %w", args[0], err)
	}
	return r, func() { f.Close() }, nil
}

func openSink(args []string, liveSubject, natsURL string) (writer.Sink, func(), error) {
	if liveSubject != "" {
		sink, err := livesource.NewSink(livesource.Config{URL: natsURL, Subject: liveSubject})
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { sink.Close() }, nil
	}

	var outPath string
	if len(args) >= 2 {
		outPath = args[1]
	} else {
		outPath = args[0] // only reachable when --live-in was given
	}
	f, err := os.Create(outPath)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output %q: %w", outPath, err)
	}
	return capture.NewWriter(f), func() { f.Close() }, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `dpisieve: classify and filter traffic from a capture file

Usage:
  dpisieve [flags] <input.pcap> <output.pcap>
  dpisieve [flags] --live-in=<subject> <output.pcap>
  dpisieve [flags] <input.pcap> --live-out=<subject>

Flags:
`)
	flag.PrintDefaults()
}
