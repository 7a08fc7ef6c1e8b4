package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/volant-web/volant"
	"github.com/volant-web/volant/config"
	"github.com/volant-web/volant/http/status"
	"github.com/volant-web/volant/kv"
	"github.com/volant-web/volant/lifecycle"
	"github.com/volant-web/volant/telemetry"

	vhttp "github.com/volant-web/volant/http"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "volant:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "volant",
		Short:         "volant serves an echo application over HTTP/1.x",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	flags.String("addr", "0.0.0.0:8080", "address to listen on")
	flags.String("config", "", "path to a yaml config file")
	flags.String("log-level", "info", "zap log level")
	flags.String("metrics-addr", "", "address to expose prometheus metrics on, disabled if empty")
	flags.Uint64("max-requests", 0, "shut down gracefully after serving this many requests")
	flags.Int64("max-concurrency", 0, "refuse connections above this count with 503")
	flags.Duration("graceful-timeout", 10*time.Second, "how long a graceful shutdown waits for in-flight requests")

	viper.SetEnvPrefix("VOLANT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := telemetry.NewLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	addr := viper.GetString("addr")
	app := volant.New(addr).
		Tune(cfg).
		UseLogger(log).
		Instrument(prometheus.DefaultRegisterer).
		OnStartup(lifecycle.HookFunc(func(context.Context) error {
			log.Info("listening", zap.String("addr", addr))
			return nil
		})).
		OnShutdown(lifecycle.HookFunc(func(context.Context) error {
			log.Info("bye")
			return nil
		}))

	if maddr := viper.GetString("metrics-addr"); maddr != "" {
		go serveMetrics(maddr, log)
	}

	return app.Serve(echo)
}

// loadConfig layers the sources: defaults, then an optional yaml file,
// then explicitly set flags and environment on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if path := viper.GetString("config"); path != "" {
		var err error
		if cfg, err = config.FromFile(path); err != nil {
			return nil, err
		}
	}

	if set(cmd, "max-requests") {
		cfg.Limits.MaxRequests = viper.GetUint64("max-requests")
	}
	if set(cmd, "max-concurrency") {
		cfg.Limits.MaxConcurrency = viper.GetInt64("max-concurrency")
	}
	if set(cmd, "graceful-timeout") {
		cfg.Limits.GracefulTimeout = viper.GetDuration("graceful-timeout")
	}

	return cfg, nil
}

func set(cmd *cobra.Command, name string) bool {
	return cmd.Flags().Changed(name) || os.Getenv("VOLANT_"+strings.ToUpper(strings.ReplaceAll(name, "-", "_"))) != ""
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server failed", zap.Error(err))
	}
}

// echo responds with the request's method and path, followed by the
// request body streamed back as it arrives.
func echo(ctx context.Context, scope *vhttp.Scope, receive vhttp.Receiver, send vhttp.Sender) error {
	start := vhttp.ResponseStart(status.OK,
		kv.Pair{Key: "Content-Type", Value: "text/plain; charset=utf-8"},
	)
	if err := send(ctx, start); err != nil {
		return err
	}

	preface := fmt.Sprintf("%s %s\n", scope.Method, scope.Path)
	if err := send(ctx, vhttp.ResponseBody([]byte(preface), true)); err != nil {
		return err
	}

	for {
		event, err := receive(ctx)
		if err != nil {
			return err
		}
		if event.Kind == vhttp.ReceiveDisconnect {
			return nil
		}

		if err = send(ctx, vhttp.ResponseBody(event.Body, event.More)); err != nil {
			return err
		}
		if !event.More {
			return nil
		}
	}
}
