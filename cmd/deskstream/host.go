package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avaropoint/deskstream/internal/capture"
	"github.com/avaropoint/deskstream/internal/inject"
	"github.com/avaropoint/deskstream/internal/metrics"
	"github.com/avaropoint/deskstream/internal/protocol"
	"github.com/avaropoint/deskstream/internal/security"
	"github.com/avaropoint/deskstream/internal/session"
	"github.com/avaropoint/deskstream/internal/store"
	"github.com/avaropoint/deskstream/internal/transport"
	"github.com/avaropoint/deskstream/internal/version"
)

type hostOptions struct {
	stream      streamFlags
	listen      string
	name        string
	dataDir     string
	metricsAddr string
	width       int
	height      int
	noInput     bool
}

func hostCmd() *cobra.Command {
	var opts hostOptions

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Serve this desktop to viewers",
		Long: `Serve this desktop to viewers, one session at a time.

The stream flags set the defaults until a viewer requests its own
settings. Sessions are journalled to <data-dir>/journal.db and counted
on the metrics endpoint.

Examples:
  deskstream host
  deskstream host --network quic --listen :5910 --metrics-addr :9310`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(&opts)
		},
	}

	opts.stream.register(cmd)
	cmd.Flags().StringVarP(&opts.listen, "listen", "l", ":5910", "Listen address")
	cmd.Flags().StringVar(&opts.name, "name", "", "Host name announced to viewers (defaults to hostname)")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", defaultDataDir(), "Directory for TLS material and the session journal")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", ":9310", "Metrics, health and journal API listen address (empty disables)")
	cmd.Flags().IntVar(&opts.width, "width", capture.DefaultWidth, "Test pattern width")
	cmd.Flags().IntVar(&opts.height, "height", capture.DefaultHeight, "Test pattern height")
	cmd.Flags().BoolVar(&opts.noInput, "no-input", false, "Ignore viewer input")

	return cmd
}

func runHost(opts *hostOptions) error {
	cfg, err := opts.stream.config(opts.name)
	if err != nil {
		return err
	}

	log.Printf("Host %s", version.String())

	if err := os.MkdirAll(opts.dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewSQLiteStore(filepath.Join(opts.dataDir, "journal.db"))
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	var tlsCfg *tls.Config
	if opts.stream.network == transport.QUIC {
		var paths *security.TLSPaths
		tlsCfg, paths, err = security.LoadOrGenerateTLS(opts.dataDir)
		if err != nil {
			return err
		}
		log.Printf("TLS CA certificate: %s", paths.CACertPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	observer := session.Observers{
		store.NewJournal(st, logger),
		metrics.New(),
	}

	if opts.metricsAddr != "" {
		srv := statusServer(opts.metricsAddr, st)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
		log.Printf("Status: http://localhost%s (/metrics, /healthz, /api/sessions)", opts.metricsAddr)
	}

	var injector session.InputInjector
	if !opts.noInput {
		injector = inject.New(logger)
	}
	host, err := session.NewHost(cfg,
		capture.NewTestPattern(protocol.Size{Width: opts.width, Height: opts.height}),
		injector,
		session.Options{Logger: logger, Observer: observer})
	if err != nil {
		return err
	}

	ln, err := transport.Listen(opts.stream.network, opts.listen, tlsCfg)
	if err != nil {
		return err
	}
	defer ln.Close() //nolint:errcheck
	log.Printf("Listening on %s (%s)", ln.Addr(), opts.stream.network)

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Shutting down")
				return nil
			}
			return err
		}
		// One viewer at a time; others wait in the accept backlog.
		if err := host.Serve(ctx, conn); err != nil {
			log.Printf("Session ended: %v", err)
		}
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "deskstream")
	}
	return "deskstream-data"
}
