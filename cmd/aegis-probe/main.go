package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ghalamif/AegisProbe"
	"github.com/ghalamif/AegisProbe/internal/adapters/store"
	"github.com/ghalamif/AegisProbe/internal/app/agent"
	"github.com/ghalamif/AegisProbe/internal/app/delivery"
	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "policy":
		err = policyCommand(os.Args[2:])
	case "offer":
		err = offerCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("aegis-probe %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to probe configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := aegisprobe.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegisprobe.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: probe=%s kind=%s scan=%s protocol=%s\n",
		*cfgPath, cfg.Probe.ID, cfg.Probe.Kind, cfg.Probe.ScanDuration, cfg.Delivery.ProtocolID)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsMetrics = []string{
	"aegis_probe_polls_total",
	"aegis_probe_empty_polls_total",
	"aegis_observations_ingested_total",
	"aegis_queue_length",
	"aegis_wal_size_bytes",
	"aegis_delivery_probability",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values, err := scanMetrics(bufio.NewScanner(resp.Body), statsMetrics)
	if err != nil {
		return err
	}

	fmt.Printf("[%s] polls=%.0f empty=%.0f ingested=%.0f queue=%.0f wal_bytes=%.0f p=%.2f\n",
		time.Now().Format(time.RFC3339),
		values["aegis_probe_polls_total"],
		values["aegis_probe_empty_polls_total"],
		values["aegis_observations_ingested_total"],
		values["aegis_queue_length"],
		values["aegis_wal_size_bytes"],
		values["aegis_delivery_probability"],
	)
	return nil
}

// scanMetrics picks unlabelled samples for names out of the text exposition format.
func scanMetrics(scanner *bufio.Scanner, names []string) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range names {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					out[key] = value
				}
			}
		}
	}
	return out, scanner.Err()
}

func policyCommand(args []string) error {
	fs := flag.NewFlagSet("policy", flag.ExitOnError)
	dbPath := fs.String("db", "./data/aegis-probe.db", "Path to the SQLite policy store")
	reset := fs.Bool("reset", false, "Return the probability to the default midpoint")
	set := fs.String("set", "", `Install a policy verbatim, e.g. {"p":0.6,"deferral":45}`)
	history := fs.Int("history", 10, "Number of recent outcomes to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *reset && *set != "" {
		return fmt.Errorf("-reset and -set are mutually exclusive")
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	s := store.New(db)
	ctx := context.Background()

	p, found, err := s.LoadPolicy(ctx, agent.ID)
	if err != nil {
		return err
	}
	if !found {
		p = domain.DefaultDeliveryPolicy()
	}

	switch {
	case *set != "":
		if p, err = domain.LoadDeliveryPolicy([]byte(*set)); err != nil {
			return err
		}
		if err := s.SavePolicy(ctx, agent.ID, p); err != nil {
			return err
		}
	case *reset:
		p.Probability = domain.DefaultProbability
		if err := s.SavePolicy(ctx, agent.ID, p); err != nil {
			return err
		}
	}

	fmt.Printf("%s: %s\n", agent.ID, p.Serialize())
	if !found && *set == "" && !*reset {
		fmt.Println("(no persisted policy, showing defaults)")
	}

	recent, err := s.RecentOutcomes(ctx, *history)
	if err != nil {
		return err
	}
	for _, rec := range recent {
		fmt.Printf("  %s %-9s %s -> p=%g\n",
			rec.Event.At.Format(time.RFC3339), rec.Event.Kind, rec.Event.DeliveryID, rec.Probability)
	}
	return nil
}

func offerCommand(args []string) error {
	fs := flag.NewFlagSet("offer", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to probe configuration file")
	n := fs.Int("n", 1, "Number of candidates to offer")
	target := fs.String("target", "", "Device token; defaults to delivery.default_target")
	enqueue := fs.Bool("enqueue", false, "Store the requests in the outbox instead of only printing them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := aegisprobe.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	s := store.New(db)
	ctx := context.Background()

	ag := agent.New(cfg.Agent.AgentSeed())
	if p, found, err := s.LoadPolicy(ctx, ag.ID()); err != nil {
		return err
	} else if found {
		ag.SetPolicy(p)
	}

	builder, err := delivery.NewBuilder(cfg.Delivery.ProtocolID)
	if err != nil {
		return err
	}
	var outbox ports.RequestOutbox = printOutbox{enc: json.NewEncoder(os.Stdout)}
	if *enqueue {
		outbox = teeOutbox{printOutbox{enc: json.NewEncoder(os.Stdout)}, s}
	}
	d, err := delivery.NewDispatcher(ag, builder, outbox, delivery.DispatcherConfig{
		DefaultTarget: cfg.Delivery.DefaultTarget,
		DefaultFormat: cfg.Delivery.DefaultFormat,
	}, nil)
	if err != nil {
		return err
	}

	payload := domain.SurveyPayload{
		Title:   cfg.Delivery.Title,
		Body:    cfg.Delivery.Body,
		Sound:   cfg.Delivery.Sound,
		Command: cfg.Delivery.Command,
	}
	for i := 0; i < *n; i++ {
		if _, err := d.Offer(ctx, delivery.Candidate{Target: *target, Payload: payload}); err != nil {
			return err
		}
	}
	st := ag.Stats()
	fmt.Fprintf(os.Stderr, "%s: %d delivered now, %d deferred\n", ag, st.Deliveries, st.Decisions-st.Deliveries)
	return nil
}

type printOutbox struct{ enc *json.Encoder }

func (o printOutbox) Enqueue(_ context.Context, req domain.DeliveryRequest) error {
	return o.enc.Encode(req)
}

type teeOutbox struct {
	print printOutbox
	store *store.Store
}

func (o teeOutbox) Enqueue(ctx context.Context, req domain.DeliveryRequest) error {
	if err := o.store.Enqueue(ctx, req); err != nil {
		return err
	}
	return o.print.Enqueue(ctx, req)
}

func printUsage() {
	fmt.Printf(`AegisProbe CLI

Usage:
  aegis-probe <command> [flags]

Commands:
  run        Start the probe runtime using the provided config
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live counters
  policy     Show, reset or set the persisted delivery policy
  offer      Run delivery decisions against the persisted policy and print the requests

Examples:
  aegis-probe run -config ./data/config.yaml
  aegis-probe validate -config ./data/config.yaml
  aegis-probe stats -url http://localhost:9100/metrics -interval 1s
  aegis-probe policy -db ./data/aegis-probe.db -set '{"p":0.6,"deferral":45}'
  aegis-probe offer -config ./data/config.yaml -n 10
`)
}
