package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashbyte/mitm/internal/config"
	"github.com/ashbyte/mitm/internal/logger"
	"github.com/ashbyte/mitm/internal/proxy"
	"github.com/ashbyte/mitm/pkg/certificates"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to YAML configuration file")
		host       = flag.String("host", "", "listen address")
		port       = flag.Int("port", 0, "listen port")
		caDir      = flag.String("ca-dir", "", "directory holding the CA certificate and key")
		logFile    = flag.String("log", "", "log file path")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
		exportCA   = flag.Bool("export-ca", false, "print the CA certificate PEM and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile, config.CLIOptions{
		Host:    *host,
		Port:    *port,
		CADir:   *caDir,
		LogFile: *logFile,
		Verbose: *verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ca := certificates.NewCAManager(cfg.CADir)
	if err := ca.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize CA: %v\n", err)
		os.Exit(1)
	}

	if *exportCA {
		os.Stdout.Write(ca.CertificatePEM())
		return
	}

	log, err := logger.New(logger.Config{FilePath: cfg.LogFile, Verbose: cfg.Verbose})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	store := certificates.NewStore(certificates.NewLeafGenerator(ca))

	httpProto := proxy.NewHTTPProtocol(store, log,
		proxy.WithBufferSize(cfg.BufferSize),
		proxy.WithTimeout(cfg.Timeout()),
		proxy.WithKeepAlive(cfg.KeepAlive),
		proxy.WithSkipUpstreamVerify(cfg.HTTPSSkipVerify),
	)

	server, err := proxy.New(cfg, log,
		proxy.NewRegistry(httpProto),
		proxy.NewChain(log, proxy.NewLogMiddleware(log)),
	)
	if err != nil {
		log.Error("Failed to create proxy", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info("Shutting down")
		server.Stop()
	}()

	if err := server.Run(ctx); err != nil {
		log.Error("Proxy exited with error", "error", err)
		os.Exit(1)
	}
}
