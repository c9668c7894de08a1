// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/uidrpc"
	"github.com/luxfi/uidrpc/config"
	"github.com/luxfi/uidrpc/protocol"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "uidctl",
		Short:        "ID service transport control",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("UIDRPC_CONFIG"), "Config file (YAML or JSON)")
	rootCmd.AddCommand(newServeCmd(), newPingCmd(), newStatsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("admin"); v != "" {
		cfg.AdminAddr = v
	}
	if v, _ := cmd.Flags().GetString("transport"); v != "" {
		cfg.Transport = v
	}
	return cfg, cfg.Validate()
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a transport server with the admin endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cmd, cfg, log)
		},
	}
	cmd.Flags().String("listen", "", "Transport listen address (overrides config)")
	cmd.Flags().String("admin", "", "Admin JSON-RPC listen address (overrides config)")
	cmd.Flags().String("transport", "", "Transport: tcp|grpc (overrides config)")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, cfg config.Config, log *zap.Logger) error {
	server, err := uidrpc.Listen(cfg.ListenAddr, uidrpc.WithConfig(cfg), uidrpc.WithLogger(log))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer server.Close()

	bodies := uidrpc.NewRecordCodec()
	server.RegisterHandler(protocol.CodeHeartbeat, uidrpc.HandlerFunc(
		func(ctx context.Context, req *uidrpc.Envelope) (*uidrpc.Envelope, error) {
			var h protocol.HeartbeatHeader
			if err := req.DecodeHeader(&h); err != nil {
				return nil, err
			}
			var hb protocol.HeartbeatData
			if len(req.Body) > 0 {
				if err := bodies.Decode(req.Body, &hb); err != nil {
					return nil, err
				}
			}
			log.Debug("heartbeat", zap.String("node", h.NodeID), zap.Int64("term", h.Term), zap.String("addr", hb.Addr))
			return uidrpc.NewResponse(uidrpc.CodeSuccess, "pong"), nil
		}), nil)

	admin, err := uidrpc.NewAdminHandler(server, log)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/rpc", admin)
	httpServer := &http.Server{Addr: cfg.AdminAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	adminLn, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	go func() {
		if err := httpServer.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server stopped", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		err := config.Watch(ctx, path, func(next config.Config, err error) {
			if err != nil {
				log.Warn("config reload failed", zap.String("path", path), zap.Error(err))
				return
			}
			log.Info("config changed; restart to apply", zap.String("path", path),
				zap.String("transport", next.Transport), zap.String("listen", next.ListenAddr))
		})
		if err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	log.Info("uidctl serving",
		zap.String("transport", cfg.Transport),
		zap.String("listen", server.Addr()),
		zap.String("admin", adminLn.Addr().String()))
	return server.Serve(ctx)
}

func newPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send a heartbeat request to a transport server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			node, _ := cmd.Flags().GetString("node")

			ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
			defer cancel()
			caller, err := uidrpc.Dial(ctx, cfg.ListenAddr, uidrpc.WithConfig(cfg))
			if err != nil {
				return err
			}
			defer caller.Close()

			start := time.Now()
			header := &protocol.HeartbeatHeader{NodeID: node}
			body := &protocol.HeartbeatData{NodeID: node, Timestamp: start.UnixMilli()}
			if err := caller.Call(ctx, protocol.CodeHeartbeat, header, body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong from %s in %s\n", cfg.ListenAddr, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
	cmd.Flags().String("listen", "", "Server transport address (overrides config)")
	cmd.Flags().String("transport", "", "Transport: tcp|grpc (overrides config)")
	cmd.Flags().String("node", "uidctl", "Node id sent in the heartbeat header")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Query a server's admin endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			uri := &url.URL{Scheme: "http", Host: cfg.AdminAddr, Path: "/rpc"}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			stats, err := uidrpc.AdminStats(ctx, uri)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().String("admin", "", "Admin endpoint address (overrides config)")
	return cmd
}
