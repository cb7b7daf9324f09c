package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunorijsman/qkd-cascade/internal/config"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/channel"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
	"github.com/brunorijsman/qkd-cascade/pkg/metrics"
)

type keyFlags struct {
	keySize int
	seed    uint64
}

func (f *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.keySize, "size", 10000, "Key size in bits")
	cmd.Flags().Uint64Var(&f.seed, "seed", 1, "Seed of Alice's key (both parties must agree)")
}

// aliceKey derives Alice's key. Both commands derive it the same way so the
// demo needs no key distribution.
func (f *keyFlags) aliceKey() (*key.Key, error) {
	if f.keySize < 1 {
		return nil, fmt.Errorf("invalid key size: %d", f.keySize)
	}
	return key.NewRandom(f.keySize, crypto.NewRand(f.seed)), nil
}

func newServeCommand(global *globalFlags) *cobra.Command {
	keys := &keyFlags{}
	var addr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run Alice's parity server",
		Long: `Serve parity queries about Alice's key to Bob clients over TCP until
interrupted. Optionally exposes Prometheus metrics and health endpoints.`,
		Example: `  cascade serve --addr :8484 --size 10000 --seed 42 --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Address = metricsAddr
			}

			collector, logger, err := setupObservability(cfg, global.tracing, "alice")
			if err != nil {
				return err
			}
			alice, err := keys.aliceKey()
			if err != nil {
				return err
			}

			obs := metrics.NewServerObserver(collector, nil, logger)
			srvCfg := cfg.ChannelServerConfig()
			srvCfg.Observer = obs
			srvCfg.RateLimitObserver = obs
			srv, err := channel.NewServer(alice, srvCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, srv, cfg.Server.Address, cfg.Metrics, collector, logger)
		},
	}

	keys.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Observability server address (enables metrics)")
	return cmd
}

func runServer(ctx context.Context, srv *channel.Server, addr string, mcfg config.MetricsConfig,
	collector *metrics.Collector, logger *metrics.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	logger.Info("listening", metrics.Fields{"addr": ln.Addr().String(), "key_size": srv.KeySize()})

	if mcfg.Enabled {
		obsServer := metrics.NewServer(metrics.ServerConfig{
			Collector: collector,
			Version:   getVersion(),
			Namespace: mcfg.Namespace,
		})
		go func() {
			if err := obsServer.ListenAndServe(ctx, mcfg.Address); err != nil {
				logger.Error("observability server error", metrics.Fields{"error": err.Error()})
			}
		}()
		logger.Info("observability server started", metrics.Fields{"addr": mcfg.Address})
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = srv.Close()
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, qerrors.ErrChannelClosed) {
		return err
	}
	return nil
}
