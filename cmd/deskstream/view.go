package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/avaropoint/deskstream/internal/render"
	"github.com/avaropoint/deskstream/internal/security"
	"github.com/avaropoint/deskstream/internal/session"
	"github.com/avaropoint/deskstream/internal/transport"
)

type viewOptions struct {
	stream   streamFlags
	caCert   string
	snapshot string
	every    time.Duration
	duration time.Duration
}

func viewCmd() *cobra.Command {
	var opts viewOptions

	cmd := &cobra.Command{
		Use:   "view <address>",
		Short: "Connect to a host and receive its stream",
		Long: `Connect to a host, request a stream and decode it.

Decoded frames are kept in memory; with --snapshot the latest frame is
written as a PNG periodically and on exit.

Examples:
  deskstream view localhost:5910 --snapshot screen.png
  deskstream view host.lan:5910 --network quic --ca ca.crt --format rgb565`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(args[0], &opts)
		},
	}

	opts.stream.register(cmd)
	cmd.Flags().StringVar(&opts.caCert, "ca", "", "Host CA certificate for QUIC (empty skips verification)")
	cmd.Flags().StringVarP(&opts.snapshot, "snapshot", "o", "", "Write the latest frame to this PNG file")
	cmd.Flags().DurationVar(&opts.every, "snapshot-every", 5*time.Second, "Snapshot interval")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Disconnect after this long (0 runs until interrupted)")

	return cmd
}

// viewStats totals what the viewer received.
type viewStats struct {
	frames  atomic.Int64
	bytes   atomic.Int64
	cursors atomic.Int64
	hits    atomic.Int64
}

func (s *viewStats) OnEvent(e session.Event) {
	switch e.Kind {
	case session.EventConnected:
		if h := e.Host; h != nil {
			log.Printf("Connected to %s (%s %s/%s, deskstream %s), screen %s",
				h.Name, h.OSVersion, h.OS, h.Arch, h.Version, h.Screen)
		}
	case session.EventFrame:
		s.frames.Add(1)
		s.bytes.Add(int64(e.Bytes))
	case session.EventCursor:
		s.cursors.Add(1)
		if e.CacheHit {
			s.hits.Add(1)
		}
	case session.EventDisconnected:
		log.Printf("Disconnected: %s", e.Reason)
	}
}

func runView(addr string, opts *viewOptions) error {
	cfg, err := opts.stream.config("")
	if err != nil {
		return err
	}

	var tlsCfg *tls.Config
	if opts.stream.network == transport.QUIC {
		if tlsCfg, err = security.ClientTLS(opts.caCert); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	conn, err := transport.Dial(ctx, opts.stream.network, addr, tlsCfg)
	if err != nil {
		return err
	}

	snap := render.NewSnapshot()
	stats := &viewStats{}
	viewer, err := session.NewViewer(cfg, snap, session.Options{Logger: slog.Default(), Observer: stats})
	if err != nil {
		conn.Close() //nolint:errcheck
		return err
	}

	if opts.snapshot != "" && opts.every > 0 {
		go writeSnapshots(ctx, snap, opts.snapshot, opts.every)
	}

	start := time.Now()
	runErr := viewer.Run(ctx, conn)

	if opts.snapshot != "" {
		if err := snap.WritePNG(opts.snapshot); err == nil {
			log.Printf("Snapshot written to %s", opts.snapshot)
		} else if !errors.Is(err, render.ErrNoFrame) {
			log.Printf("Snapshot failed: %v", err)
		}
	}

	elapsed := time.Since(start).Round(time.Second)
	frames, bytes := stats.frames.Load(), stats.bytes.Load()
	fmt.Printf("Received %s frames (%s) in %s", humanize.Comma(frames), humanize.Bytes(uint64(bytes)), elapsed)
	if secs := elapsed.Seconds(); secs >= 1 {
		fmt.Printf(", %s/s", humanize.Bytes(uint64(float64(bytes)/secs)))
	}
	fmt.Printf("; %d cursor shapes, %d from cache\n", stats.cursors.Load(), stats.hits.Load())
	return runErr
}

func writeSnapshots(ctx context.Context, snap *render.Snapshot, path string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := snap.WritePNG(path); err != nil && !errors.Is(err, render.ErrNoFrame) {
				slog.Warn("snapshot failed", "error", err)
			}
		}
	}
}
