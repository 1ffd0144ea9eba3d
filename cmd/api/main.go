package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"polisflow/asyncdriver"
	"polisflow/config"
	"polisflow/contract"
	"polisflow/db"
	"polisflow/driver"
	"polisflow/logging"
	"polisflow/mailer"
	"polisflow/metrics"
	"polisflow/numbering"
	"polisflow/pdfcache"
	"polisflow/program"
	"polisflow/restdriver"
	"polisflow/soapdriver"
	"polisflow/tokencache"
	"polisflow/transport"
	"polisflow/userdir"
	"polisflow/uwexport"
)

const defaultCarrierTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:          "polisflow-api",
		Short:        "policy driver orchestration service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "env file loaded before reading the environment")
	return cmd
}

func run(ctx context.Context, envFile string) error {
	// Missing env file is fine; the environment may already be populated.
	_ = godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Env)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var tokenStore tokencache.Store
	if cfg.CacheKind == "redis" {
		tokenStore = tokencache.NewRedis(redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}))
	} else {
		tokenStore = tokencache.NewMemory()
	}
	tokens := tokencache.New(tokenStore)

	pdfs, err := pdfcache.New(cfg.PDFDir)
	if err != nil {
		return err
	}
	mail := mailer.NewSMTP(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)

	programs := program.NewRepository(pool)
	contracts := contract.NewRepository(pool)

	backoffice := transport.NewClient("backoffice", defaultCarrierTimeout, log, m)
	users := userdir.NewClient(cfg.UserDirURL, backoffice)
	numbers := numbering.NewClient(cfg.NumberingURL, backoffice)
	exporter := uwexport.NewClient(cfg.UWExportURL, backoffice)

	carriers, err := config.LoadCarriers(cfg.CarriersFile)
	if err != nil {
		return err
	}
	registry := driver.NewRegistry()
	for _, c := range carriers {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultCarrierTimeout
		}
		client := transport.NewClient(c.Code, timeout, log, m)

		var drv driver.CarrierDriver
		switch c.Kind {
		case "rest":
			drv = restdriver.New(restdriver.Config{
				Code:         c.Code,
				BaseURL:      c.BaseURL,
				TokenURL:     c.TokenURL,
				ClientID:     c.ClientID,
				ClientSecret: c.ClientSecret,
				Production:   cfg.Production(),
			}, restdriver.Deps{
				Client:    client,
				Tokens:    tokens,
				Programs:  programs,
				Contracts: contracts,
				Users:     users,
				PDFs:      pdfs,
				Mail:      mail,
				Metrics:   m,
				Log:       log,
			})
		case "soap":
			drv = soapdriver.New(soapdriver.Config{
				Code:             c.Code,
				Endpoint:         c.Endpoint,
				StatusEndpoint:   c.StatusEndpoint,
				Login:            c.Login,
				Password:         c.Password,
				PayFormURL:       c.PayFormURL,
				NumberIterations: c.NumberIterations,
				PollGrace:        c.PollGrace,
				PollInterval:     c.PollInterval,
				Production:       cfg.Production(),
			}, soapdriver.Deps{
				Client:    client,
				Programs:  programs,
				Contracts: contracts,
				Users:     users,
				PDFs:      pdfs,
				Mail:      mail,
				Metrics:   m,
				Log:       log,
			})
		case "async":
			drv = asyncdriver.New(asyncdriver.Config{
				Code:       c.Code,
				BaseURL:    c.BaseURL,
				APIKey:     c.APIKey,
				PayFormURL: c.PayFormURL,
				DocMarker:  c.DocMarker,
				Production: cfg.Production(),
			}, asyncdriver.Deps{
				Client:    client,
				Programs:  programs,
				Contracts: contracts,
				Users:     users,
				PDFs:      pdfs,
				Mail:      mail,
				Metrics:   m,
				Log:       log,
			})
		}
		registry.Register(c.Code, drv)
		log.Info("carrier driver registered",
			zap.String("carrier", c.Code),
			zap.String("kind", c.Kind))
	}

	svc := &driver.Service{
		Registry:  registry,
		Programs:  programs,
		Contracts: contracts,
		Numbers:   numbers,
		Exporter:  exporter,
		Log:       log,
	}
	log.Info("driver service ready", zap.Int("carriers", len(carriers)))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("listening", zap.String("addr", cfg.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
