// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/pidlink/internal/config"
	"github.com/Thermoquad/pidlink/internal/httpapi"
	"github.com/Thermoquad/pidlink/internal/logging"
	"github.com/Thermoquad/pidlink/internal/metrics"
	"github.com/Thermoquad/pidlink/pkg/dispatch"
	"github.com/Thermoquad/pidlink/pkg/persist"
	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/server"
	"github.com/Thermoquad/pidlink/pkg/stream"
	"github.com/Thermoquad/pidlink/pkg/varstore"
	"github.com/Thermoquad/pidlink/pkg/watchdog"
)

var (
	serveConfigPath string
	serveListen     string
	serveHTTPAddr   string
	serveLogLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PID controller",
	Long: `Run the controller: answer read/write requests on the UDP socket, stream
telemetry to the last peer while the stream is running, and stop the stream
when no request has arrived for the idle timeout.

Configuration is read from --config, PIDLINK_CONFIG, or pidlink.yaml in the
working directory or ./configs. Every key can be overridden from the
environment, e.g. PIDLINK_WATCHDOG_IDLETIMEOUT=30s.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Config file (yaml, toml or json)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "UDP listen address (overrides server.udpAddr)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address (overrides http.addr)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level (overrides logging.level)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.UDPAddr = serveListen
	}
	if serveHTTPAddr != "" {
		cfg.HTTP.Addr = serveHTTPAddr
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctl, err := newController(cfg, log)
	if err != nil {
		return err
	}
	return ctl.run(ctx)
}

// controller is the wired server process
type controller struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *varstore.Store
	pub     *stream.Publisher
	wd      *watchdog.Watchdog
	srv     *server.Server
	httpSrv *httpapi.Server
}

func newController(cfg *config.Config, log *zap.Logger) (*controller, error) {
	ioPolicy, err := stream.ParseErrorPolicy(cfg.Server.IOErrorPolicy)
	if err != nil {
		return nil, err
	}
	sendPolicy, err := stream.ParseErrorPolicy(cfg.Stream.SendErrorPolicy)
	if err != nil {
		return nil, err
	}
	codec := cfg.Codec()

	ctl := &controller{cfg: cfg, log: log, store: varstore.New(varstore.Defaults())}

	var persister dispatch.Persister
	if cfg.Persist.Path != "" {
		fs, err := persist.NewFileStore(cfg.Persist.Path, log.Named("persist"))
		if err != nil {
			return nil, err
		}
		persister = fs
		if cfg.Persist.LoadOnStart {
			img, err := fs.Load()
			switch {
			case err == nil:
				ctl.store.Restore(img.Values)
				log.Info("variables restored", zap.String("path", fs.Path()), zap.Time("savedAt", img.SavedAt))
			case errors.Is(err, persist.ErrNoImage):
				log.Info("no saved image, using factory defaults", zap.String("path", fs.Path()))
			default:
				return nil, fmt.Errorf("load image: %w", err)
			}
		}
	}

	var dm *metrics.DeviceMetrics
	reg := metrics.NewRegistry()
	if cfg.Metrics.Enable {
		dm = metrics.NewDeviceMetrics(reg)
	}

	// the server is the publisher's sender and the publisher is the dispatcher's
	// stream, so the server is created last and reached through ctl
	sender := senderFunc(func(s pidproto.Sample) error { return ctl.srv.SendSample(s) })
	pubOpts := []stream.Option{
		stream.WithCadence(cfg.Stream.Cadence),
		stream.WithErrorPolicy(sendPolicy),
		stream.WithLogger(log.Named("stream")),
	}
	if dm != nil {
		pubOpts = append(pubOpts, stream.WithMetricsCallbacks(
			dm.StreamSamples.Inc,
			func(error) { dm.StreamSendErrors.Inc() },
			dm.ObserveStreamState,
		))
	}
	ctl.pub = stream.New(sender, pubOpts...)

	wdOpts := []watchdog.Option{
		watchdog.WithCheckInterval(cfg.Watchdog.CheckInterval),
		watchdog.WithLogger(log.Named("watchdog")),
	}
	if dm != nil {
		wdOpts = append(wdOpts, watchdog.WithOnFire(dm.WatchdogAutoStops.Inc))
	}
	ctl.wd = watchdog.New(ctl.pub, cfg.Watchdog.IdleTimeout, wdOpts...)

	dOpts := []dispatch.Option{
		dispatch.WithActivity(ctl.wd),
		dispatch.WithCodec(codec),
		dispatch.WithLogger(log.Named("dispatch")),
	}
	if persister != nil {
		dOpts = append(dOpts, dispatch.WithPersister(persister))
	}
	if dm != nil {
		dOpts = append(dOpts, dispatch.WithMetricsCallbacks(dm.ObserveRequest, func(error) { dm.SaveErrors.Inc() }))
	}
	d := dispatch.New(ctl.store, ctl.pub, dOpts...)

	ctl.srv = server.New(cfg.Server.UDPAddr, d,
		server.WithCodec(codec),
		server.WithPollInterval(cfg.Server.PollInterval),
		server.WithErrorPolicy(ioPolicy),
		server.WithLogger(log.Named("server")),
	)
	if dm != nil {
		ctl.srv.SetMetricsCallbacks(dm.ObserveDatagram, dm.ObserveMalformed, dm.ObserveTransportError)
	}

	if cfg.HTTP.Addr != "" {
		opts := httpapi.Options{
			Addr:      cfg.HTTP.Addr,
			WSPath:    cfg.HTTP.WSPath,
			WSHandler: ctl.srv.ServeWS,
			Variables: ctl.store.Snapshot,
			Stream:    ctl.streamStatus,
			Ready:     ctl.srv.Listening,
		}
		if cfg.Metrics.Enable {
			opts.MetricsPath = cfg.Metrics.Path
			opts.MetricsHandler = metrics.Handler(reg)
		}
		ctl.httpSrv = httpapi.New(opts)
	}

	return ctl, nil
}

func (c *controller) streamStatus() httpapi.StreamStatus {
	return httpapi.StreamStatus{
		State:       c.pub.State().String(),
		Points:      c.pub.Count(),
		Peer:        c.srv.Peer(),
		Cadence:     c.pub.Cadence().String(),
		IdleTimeout: c.wd.Timeout().String(),
	}
}

// run binds the socket and serves until ctx is done or a fatal policy trips
func (c *controller) run(ctx context.Context) error {
	if c.srv.LocalAddr() == nil {
		if err := c.srv.Listen(); err != nil {
			return err
		}
	}
	defer c.srv.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// only fatal failures are reported; a nil return means ctx is done
	errCh := make(chan error, 2)
	go func() {
		if err := c.srv.Serve(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := c.pub.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	go c.wd.Run(ctx)

	if c.httpSrv != nil {
		go func() {
			if err := c.httpSrv.Start(); err != nil {
				c.log.Error("http server error", zap.Error(err))
			}
		}()
		c.log.Info("http server started", zap.String("addr", c.cfg.HTTP.Addr))
	}

	c.log.Info("controller ready",
		zap.Duration("cadence", c.pub.Cadence()),
		zap.Duration("idleTimeout", c.wd.Timeout()),
		zap.String("byteOrder", c.cfg.Protocol.ByteOrder))

	var runErr error
	select {
	case <-ctx.Done():
		c.log.Info("received shutdown signal, shutting down")
	case runErr = <-errCh:
		c.log.Error("fatal transport error", zap.Error(runErr))
	}
	cancel()

	if c.httpSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.httpSrv.Shutdown(sctx)
		scancel()
	}
	if n, stopped := c.pub.Stop(); stopped {
		c.log.Info("stream stopped on shutdown", zap.Uint64("points", n))
	}
	c.log.Info("shutdown complete")
	return runErr
}

// senderFunc adapts a function to stream.Sender
type senderFunc func(pidproto.Sample) error

func (f senderFunc) SendSample(s pidproto.Sample) error { return f(s) }
