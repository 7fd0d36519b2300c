package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"billnotif/internal/alert"
	"billnotif/internal/awsutil"
	"billnotif/internal/channel"
	"billnotif/internal/compose"
	"billnotif/internal/config"
	"billnotif/internal/dispatch"
	"billnotif/internal/httpserver"
	"billnotif/internal/logging"
	"billnotif/internal/observability"
	"billnotif/internal/providers/smtp"
	"billnotif/internal/providers/telegram"
	"billnotif/internal/providers/twilio"
	sqsqueue "billnotif/internal/queue/sqs"
	"billnotif/internal/schedule"
	"billnotif/internal/store"
	"billnotif/internal/store/pg"
	"billnotif/internal/store/sqlite"
	"billnotif/internal/util"
)

func main() {
	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("dispatcher store init failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid timezone", "tz", cfg.Timezone, "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	observability.Register(reg)

	tmpl := compose.DefaultTemplate()
	if cfg.TemplateFile != "" {
		if tmpl, err = compose.LoadTemplate(cfg.TemplateFile); err != nil {
			slog.Error("notice template load failed", "path", cfg.TemplateFile, "err", err)
			os.Exit(1)
		}
	}
	if cfg.CurrencySymbol != "" {
		tmpl.CurrencySymbol = cfg.CurrencySymbol
	}
	if cfg.CurrencyFormat != "" {
		tmpl.CurrencyFormat = cfg.CurrencyFormat
	}
	composer := compose.New(tmpl)

	gateway, normalize, err := messagingGateway(cfg)
	if err != nil {
		slog.Error("messaging gateway init failed", "provider", cfg.MessagingProvider, "err", err)
		os.Exit(1)
	}

	mailer := &smtp.Client{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		Timeout:  cfg.SMTPTimeout,
		StartTLS: cfg.SMTPStartTLS,
	}
	if !mailer.Configured() {
		slog.Warn("SMTP not configured, email sends will report the channel unavailable")
	}

	// Both adapters are always installed; an unconfigured transport reports
	// domain.ErrChannelUnavailable per recipient.
	processor := &dispatch.Processor{
		Store:    st,
		Composer: composer,
		Now:      util.NowUTC,
		Messaging: &channel.Messaging{
			Gateway:   gateway,
			Limiter:   rate.NewLimiter(rate.Limit(cfg.MessagingRPS), cfg.MessagingBurst),
			Breaker:   channel.NewBreaker("messaging", cfg.BreakerTrip, cfg.BreakerCooldown),
			Timeout:   cfg.MessagingTimeout,
			Normalize: normalize,
		},
		Email: &channel.Email{
			Mailer:  mailer,
			Subject: composer.Subject,
			Breaker: channel.NewBreaker("email", cfg.BreakerTrip, cfg.BreakerCooldown),
			Timeout: cfg.SMTPTimeout,
		},
	}

	// Windows are evaluated on the dispatch timezone's wall clock.
	localNow := func() time.Time { return time.Now().In(loc) }
	runner := &dispatch.Runner{
		Scanner:       &dispatch.Scanner{Store: st},
		Processor:     processor,
		Health:        st,
		HealthTimeout: cfg.DBHealthTimeout,
		Delay:         cfg.RecipientDelay,
		Now:           localNow,
	}

	alerts, err := alertSinks(ctx, cfg, gateway)
	if err != nil {
		slog.Error("alert sinks init failed", "err", err)
		os.Exit(1)
	}

	driver, err := schedule.New(runner, dispatch.NewStats(nil), alerts, schedule.Config{
		Schedule:             cfg.Schedule,
		Location:             loc,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	})
	if err != nil {
		slog.Error("dispatch schedule invalid", "schedule", cfg.Schedule, "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(reg)
	(&httpserver.API{Driver: driver}).Register(srv.Mux)
	srv.Mux.HandleFunc("/healthz", httpserver.Healthz())
	srv.Mux.HandleFunc("/readyz", httpserver.Readyz(cfg.DBHealthTimeout, st.HealthCheck))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher http listening", "port", cfg.Port)
		httpErrCh <- httpSrv.ListenAndServe()
	}()

	if cfg.Autostart {
		if err := driver.Start(); err != nil {
			slog.Error("dispatch schedule start failed", "err", err)
			os.Exit(1)
		}
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("systemd notify failed", "err", err)
	} else if ok {
		slog.Debug("systemd notified ready")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("dispatcher http server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("dispatcher shutdown", "signal", sig.String())
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if err := driver.Stop(shutdownCtx); err != nil {
		slog.Warn("dispatcher shutdown timeout waiting for run", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.DispatcherConfig) (store.Store, func(), error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.SQLiteBusy)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		pool, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: cfg.DBConnLifetime,
			MaxConnIdleTime: cfg.DBConnIdleTime,
		}, cfg.DBHealthTimeout)
		if err != nil {
			return nil, nil, err
		}
		return pg.New(pool), pool.Close, nil
	}
}

func messagingGateway(cfg config.DispatcherConfig) (channel.Gateway, func(string) string, error) {
	switch strings.ToLower(cfg.MessagingProvider) {
	case "twilio":
		return &twilio.Client{
			AccountSID:          cfg.TwilioAccountSID,
			AuthToken:           cfg.TwilioAuthToken,
			HTTP:                &http.Client{Timeout: cfg.MessagingTimeout},
			MessagingServiceSID: cfg.TwilioMessagingServiceSID,
			FromNumber:          cfg.TwilioFromNumber,
			BaseURL:             cfg.TwilioBaseURL,
			WhatsApp:            cfg.TwilioWhatsApp,
		}, util.NormalizePhone, nil
	case "telegram":
		c, err := telegram.New(telegram.Config{
			Token:   cfg.TelegramToken,
			APIURL:  cfg.TelegramAPIURL,
			Timeout: cfg.MessagingTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	default:
		slog.Warn("messaging channel disabled", "provider", cfg.MessagingProvider)
		return nil, nil, nil
	}
}

func alertSinks(ctx context.Context, cfg config.DispatcherConfig, gateway channel.Gateway) (alert.Multi, error) {
	sinks := alert.Multi{{Name: "log", Alerter: alert.Log{}}}
	if cfg.AlertSQSQueueURL != "" {
		client, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			return nil, fmt.Errorf("sqs client: %w", err)
		}
		host, _ := os.Hostname()
		sinks = append(sinks, alert.Sink{Name: "sqs", Alerter: &sqsqueue.AlertProducer{
			SQS: client, QueueURL: cfg.AlertSQSQueueURL, Source: host,
		}})
	}
	if cfg.AlertChatAddress != "" && gateway != nil {
		sinks = append(sinks, alert.Sink{Name: "chat", Alerter: alert.Chat{
			Gateway: gateway, Address: cfg.AlertChatAddress, Timeout: cfg.MessagingTimeout,
		}})
	}
	return sinks, nil
}
