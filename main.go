package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"carnotengine/tls-override/boring"
	"carnotengine/tls-override/certmatch"
	"carnotengine/tls-override/config"
	"carnotengine/tls-override/foreign"
	"carnotengine/tls-override/intercept"
	"carnotengine/tls-override/probe"
	"github.com/function61/gokit/log/logex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const usage = `usage: tlsoverride <command> [flags]

commands:
  survey   resolve every hook site and accessor in a BoringSSL library
  trace    count calls to the hook sites of a library on disk (eBPF uprobes)
  check    decide a PEM/DER certificate chain against the trusted CA
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "survey":
		err = survey(args)
	case "trace":
		err = trace(args)
	case "check":
		err = check(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

// loadConfig parses the shared flags; explicit flags win over the file.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, *logex.Leveled, error) {
	var cfgPath, component, ca string
	var debug bool
	fs.StringVar(&cfgPath, "config", "", "TOML configuration file")
	fs.StringVar(&component, "lib", "", "BoringSSL component name or path (default from config)")
	fs.StringVar(&ca, "ca", "", "trusted CA certificate, PEM or DER (default from config)")
	fs.BoolVar(&debug, "debug", false, "debug diagnostics")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return nil, nil, err
		}
	}
	if component != "" {
		cfg.Component = component
		cfg.Trace.Library = component
	}
	if ca != "" {
		cfg.TrustedCA = ca
	}
	cfg.Debug = cfg.Debug || debug
	return cfg, cfg.Logger(os.Stderr), nil
}

func survey(args []string) error {
	cfg, logl, err := loadConfig(flag.NewFlagSet("survey", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	lib, err := foreign.Open(boring.Loader{}, cfg.Component, logl)
	if err != nil {
		return err
	}
	status := map[string]string{}
	primaries, total := 0, 0
	for _, sym := range probe.Symbols() {
		if h := foreign.ResolveKnown(lib, sym); h.Valid() {
			status[sym] = probe.StatusOK
			logl.Debug.Printf("%s %s at %#x", sym, h.Sig, h.Addr)
		} else {
			status[sym] = probe.StatusMissing
		}
	}
	for _, site := range intercept.Sites {
		if !site.Primary {
			continue
		}
		total++
		if status[site.Symbol] == probe.StatusOK {
			primaries++
		}
	}
	logl.Info.Printf("probe matrix: %s", probe.Matrix(status))
	if primaries == 0 {
		return errors.New("no custom_verify site exported, the override would be a no-op")
	}
	logl.Info.Printf("%d of %d custom_verify sites available in %s", primaries, total, lib.Name())
	return nil
}

func trace(args []string) error {
	fs := flag.NewFlagSet("trace", flag.ExitOnError)
	var metricsPath, listen string
	var interval time.Duration
	fs.StringVar(&metricsPath, "metrics", "", "metrics JSON path (default from config)")
	fs.StringVar(&listen, "listen", "", "serve Prometheus metrics on this address")
	fs.DurationVar(&interval, "interval", 0, "metrics flush interval (default from config)")
	cfg, logl, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if metricsPath != "" {
		cfg.Trace.MetricsPath = metricsPath
	}
	if listen != "" {
		cfg.Trace.Listen = listen
	}
	if interval > 0 {
		cfg.Trace.Interval.Duration = interval
	}
	if err := cfg.ValidateTrace(); err != nil {
		return err
	}

	tracer, err := probe.Open(cfg.Trace.Library, probe.Symbols())
	if err != nil {
		return err
	}
	defer tracer.Close()
	logl.Info.Printf("probe matrix: %s", probe.Matrix(tracer.Status()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if cfg.Trace.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(probe.NewCollector(tracer))
		srv := &http.Server{Addr: cfg.Trace.Listen, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logl.Error.Printf("metrics listener: %v", err)
			}
		}()
		defer srv.Close()
	}

	snap := &probe.Snapshot{Library: tracer.Library()}
	flush := func() {
		snap.Take(tracer)
		if err := snap.WriteFile(cfg.Trace.MetricsPath); err != nil {
			logl.Error.Printf("%v", err)
		}
		logl.Info.Printf("site calls: %v", snap.SiteCalls)
	}
	tick := time.NewTicker(cfg.Trace.Interval.Duration)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			flush()
			logl.Info.Printf("FINAL probe matrix: %s", probe.Matrix(tracer.Status()))
			return nil
		case <-tick.C:
			flush()
		}
	}
}

func check(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cfg, logl, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: tlsoverride check -ca ca.pem chain.pem")
	}
	der, err := cfg.ReadTrustedCA()
	if err != nil {
		return err
	}
	policy, err := certmatch.NewPolicy(der)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	chain, err := config.ParseCertificates(raw)
	if err != nil {
		return err
	}
	for i, cert := range chain {
		logl.Debug.Printf("chain[%d]: %d bytes, match=%v", i, len(cert), certmatch.Matches(cert, der))
	}
	d := policy.Decide(chain)
	fmt.Printf("decision=%s chain=%d trusted_sha256=%s\n", d, len(chain), policy.Fingerprint())
	if d != certmatch.AcceptOverride {
		os.Exit(1)
	}
	return nil
}
