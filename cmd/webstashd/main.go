// webstashd is a small demo server showing the webstash library end
// to end: config-selected backend, cached routes, a memoized
// computation with invalidation, and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"webstash"
)

type serverConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	Cache           webstash.Config `mapstructure:"cache"`
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("cacheType", cfg.Cache.Type).
		Msg("starting webstashd")

	ctx := context.Background()
	cache, err := webstash.New(ctx, cfg.Cache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create cache")
	}
	defer cache.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(webstash.NewStatsCollector(cache))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      newRouter(cache, registry, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}

	stats := cache.Stats()
	logger.Info().
		Uint64("hits", stats.Hits).
		Uint64("misses", stats.Misses).
		Float64("hitRate", stats.HitRate()).
		Msg("cache stats at shutdown")
}

func newRouter(cache *webstash.Cache, registry *prometheus.Registry, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Cached on path only: every request shares one entry for 10s.
	timeHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, time.Now().Format(time.RFC3339Nano))
	})
	mux.Handle("GET /time", cache.Cached(
		webstash.WithTimeout(10*time.Second),
	)(timeHandler))

	// Cached per query string: ?q=a&page=2 and ?page=2&q=a share an
	// entry, only successful responses are stored.
	searchHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"query":%q,"results":%q}`, q, strings.ToUpper(q))
	})
	mux.Handle("GET /search", cache.Cached(
		webstash.WithQueryString(true),
		webstash.WithTimeout(time.Minute),
		webstash.WithResponseFilter(func(status int) bool { return status < 400 }),
	)(searchHandler))

	// Memoized computation keyed on its argument.
	fib := webstash.Memoize(cache, "webstashd.fib", computeFib).
		WithTimeout(time.Hour)

	mux.HandleFunc("GET /fib", func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.URL.Query().Get("n"))
		if err != nil || n < 0 || n > 92 {
			http.Error(w, "n must be in [0, 92]", http.StatusBadRequest)
			return
		}
		value, err := fib.Call(r.Context(), n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"n":%d,"value":%d}`, n, value)
	})

	mux.HandleFunc("POST /fib/invalidate", func(w http.ResponseWriter, r *http.Request) {
		if err := fib.ForgetAll(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Info().Msg("fib cache invalidated")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return mux
}

func computeFib(_ context.Context, n int) (uint64, error) {
	// Deliberately slow so cache hits are visible in latency.
	time.Sleep(50 * time.Millisecond)
	var a, b uint64 = 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a, nil
}

// loadConfig reads webstashd.yaml (or the file given by -config) and
// WEBSTASH_* environment variables.
func loadConfig(path string) (*serverConfig, error) {
	v := viper.New()
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("cache.type", webstash.TypeSimple)

	v.SetEnvPrefix("WEBSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("webstashd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webstashd")
	}

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults plus env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &serverConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
