package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"warcreplay/internal/api"
	"warcreplay/internal/protocol"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API and the control channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts := serveOptions{}
			opts.addr, _ = cmd.Flags().GetString("addr")
			opts.seed, _ = cmd.Flags().GetString("seed")
			opts.control, _ = cmd.Flags().GetString("control")
			opts.codec, _ = cmd.Flags().GetString("codec")
			opts.watch, _ = cmd.Flags().GetBool("watch")

			e, err := openEnv(cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			return serve(ctx, logger, e, opts)
		},
	}

	cmd.Flags().String("addr", ":8090", "API listen address (empty disables)")
	cmd.Flags().String("seed", "", "comma-separated name:dbname entries to upsert before loading")
	cmd.Flags().String("control", "", `control channel: "-" for stdin/stdout, or a TCP listen address`)
	cmd.Flags().String("codec", "json", "control channel codec: json or msgpack")
	cmd.Flags().Bool("watch", false, "reload collections when the json catalog changes on disk")
	return cmd
}

type serveOptions struct {
	addr    string
	seed    string
	control string
	codec   string
	watch   bool
}

func serve(ctx context.Context, logger *slog.Logger, e *env, opts serveOptions) error {
	newCodec, err := codecFor(opts.codec)
	if err != nil {
		return err
	}

	logger.Info("loading collections")
	if err := e.manager.LoadAll(ctx, opts.seed); err != nil {
		return fmt.Errorf("load collections: %w", err)
	}
	logger.Info("collections loaded", "count", len(e.manager.Loaded()), "root", e.manager.Root())

	if opts.watch {
		if e.fileStore == nil {
			return errors.New("--watch requires --catalog-type json")
		}
		if err := watchCatalog(ctx, logger, e); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	adapter := protocol.New(e.manager, logger)

	var srv *http.Server
	if opts.addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", api.New(e.manager, logger).Handler()))
		srv = &http.Server{Addr: opts.addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		wg.Go(func() {
			logger.Info("api listening", "addr", opts.addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("api server error", "error", err)
			}
		})
	}

	switch opts.control {
	case "":
	case "-":
		// Not waited for: a read from stdin cannot be interrupted.
		go func() {
			if err := adapter.Serve(ctx, newCodec(os.Stdin, os.Stdout)); err != nil {
				logger.Error("control channel error", "error", err)
			}
			logger.Info("control channel closed")
		}()
	default:
		ln, err := net.Listen("tcp", opts.control)
		if err != nil {
			return fmt.Errorf("listen control: %w", err)
		}
		logger.Info("control listening", "addr", ln.Addr().String())
		wg.Go(func() { acceptControl(ctx, logger, ln, adapter, newCodec) })
		context.AfterFunc(ctx, func() { _ = ln.Close() })
	}

	<-ctx.Done()

	if srv != nil {
		logger.Info("stopping api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server stop error", "error", err)
		}
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

type codecFunc func(r io.Reader, w io.Writer) protocol.Codec

func codecFor(name string) (codecFunc, error) {
	switch name {
	case "json":
		return protocol.NewJSONCodec, nil
	case "msgpack":
		return protocol.NewMsgpackCodec, nil
	default:
		return nil, fmt.Errorf("unknown codec: %q", name)
	}
}

// acceptControl serves the control protocol on every accepted connection
// until the listener closes.
func acceptControl(ctx context.Context, logger *slog.Logger, ln net.Listener, adapter *protocol.Adapter, newCodec codecFunc) {
	var conns sync.WaitGroup
	defer conns.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("control accept error", "error", err)
			}
			return
		}
		conns.Go(func() {
			defer func() { _ = conn.Close() }()
			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stop()
			logger.Debug("control connection", "remote", conn.RemoteAddr().String())
			if err := adapter.Serve(ctx, newCodec(conn, conn)); err != nil && ctx.Err() == nil {
				logger.Warn("control connection error", "remote", conn.RemoteAddr().String(), "error", err)
			}
		})
	}
}

// watchCatalog reloads collections when the catalog file changes.
// Bursts of change events collapse into one reload.
func watchCatalog(ctx context.Context, logger *slog.Logger, e *env) error {
	changed := make(chan struct{}, 1)
	if err := e.fileStore.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				logger.Debug("catalog changed, reloading", "path", e.fileStore.Path())
				if err := e.manager.LoadAll(ctx, ""); err != nil {
					logger.Warn("reload after catalog change", "error", err)
				}
			}
		}
	}()
	return nil
}
