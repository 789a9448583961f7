package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/signalbox/internal/audit"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/incident"
	"github.com/zulandar/signalbox/internal/lark"
	"github.com/zulandar/signalbox/internal/llm"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/oncall"
	"github.com/zulandar/signalbox/internal/qa"
	"github.com/zulandar/signalbox/internal/telegraph"
	"github.com/zulandar/signalbox/internal/translate"
	"github.com/zulandar/signalbox/internal/webhook"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and incident workflow",
		Long:  "Starts the HTTP server for Lark and Twilio callbacks, the event workers and the session reaper.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Pretty, cmd.ErrOrStderr())

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()
	}()

	return app.run(ctx)
}

// app is the fully wired service.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	processor  *telegraph.Processor
	manager    *incident.Manager
	automation *incident.Automation
	auditStore *audit.Store
}

func buildApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	hc := &http.Client{Timeout: time.Duration(cfg.Server.HTTPTimeoutSec) * time.Second}

	owners := cfg.Incident.Owners
	larkClient, err := lark.NewClient(lark.ClientOpts{
		AppID:        cfg.Lark.AppID,
		AppSecret:    cfg.Lark.AppSecret,
		BaseURL:      cfg.Lark.BaseURL,
		HTTPClient:   hc,
		Probes:       lark.MeetingProbes(cfg.Lark.MeetingBaseURLs, cfg.Incident.MeetingTopic, owners[0]),
		FallbackLink: cfg.Incident.FallbackLink,
		Logger:       logger.With().Str("component", "lark").Logger(),
	})
	if err != nil {
		return nil, err
	}
	tokens := lark.NewTokenCache(larkClient, logger)

	// llm.New returns a nil *Client without a key; keep the interface nil too.
	var completer llm.Completer
	if c := llm.New(llm.Opts{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model, HTTPClient: hc}); c != nil {
		completer = c
	} else {
		logger.Warn().Msg("no LLM api key: translation passes through, Q&A disabled")
	}

	dispatcher, err := notify.FromConfig(cfg.Notify, hc, logger)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if len(dispatcher.Channels()) == 0 {
		logger.Warn().Msg("no notification channels configured")
	}

	var provider oncall.Provider
	if tw := oncall.NewTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken); tw != nil {
		provider = tw
	}
	caller, err := oncall.NewCaller(oncall.Settings{
		AccountSID:    cfg.Twilio.AccountSID,
		AuthToken:     cfg.Twilio.AuthToken,
		FromNumber:    cfg.Twilio.FromNumber,
		PublicBaseURL: cfg.Twilio.PublicBaseURL,
		Numbers:       cfg.Oncall.Numbers,
	}, provider, larkClient, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	mopts := incident.ManagerOpts{
		Store:        incident.NewStore(),
		Chat:         larkClient,
		Translator:   translate.New(completer, logger),
		Broadcaster:  dispatcher,
		Caller:       caller,
		NotifyChatID: cfg.Oncall.NotifyChatID,
		Owners:       owners,
		MeetingTopic: cfg.Incident.MeetingTopic,
		Location:     incident.LoadLocation(cfg.Incident.Timezone),
		SessionTTL:   sessionTTL(cfg.Incident),
		Logger:       logger,
	}

	if cfg.Automation.ScriptPath != "" {
		a.automation, err = incident.NewAutomation(incident.AutomationOpts{
			ScriptPath: cfg.Automation.ScriptPath,
			Cooldown:   time.Duration(cfg.Automation.CooldownSec) * time.Second,
			Timeout:    time.Duration(cfg.Automation.TimeoutSec) * time.Second,
			Workers:    cfg.Automation.Workers,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		mopts.Automation = a.automation
	}

	if cfg.Audit.Driver != "none" {
		a.auditStore, err = audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return nil, err
		}
		mopts.Recorder = a.auditStore
	}

	a.manager, err = incident.NewManager(mopts)
	if err != nil {
		a.close()
		return nil, err
	}

	answerer, err := qa.New(qa.Opts{
		Docs:     larkClient,
		LLM:      completer,
		Chat:     larkClient,
		DocToken: cfg.Lark.DocToken,
		Logger:   logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	router, err := telegraph.NewRouter(telegraph.RouterOpts{
		Incidents: a.manager,
		Answerer:  answerer,
		Tokens:    tokens,
		Channels:  cfg.Incident.Channels,
		Logger:    logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.processor, err = telegraph.NewProcessor(telegraph.ProcessorOpts{
		Handler:   router,
		Workers:   cfg.Server.Workers,
		QueueSize: cfg.Server.QueueSize,
		Logger:    logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// sessionTTL is the configured session lifetime, or 0 when expiry is off.
func sessionTTL(cfg config.IncidentConfig) time.Duration {
	ttl, _ := cfg.SessionExpiry()
	return ttl
}

// run serves until ctx is cancelled. The HTTP server, event workers and
// session reaper share one lifetime; the first failure stops the rest.
func (a *app) run(ctx context.Context) error {
	sched, err := incident.ParseSchedule(a.cfg.Incident.ReapCron)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webhook.Start(ctx, webhook.Opts{
			Port:       a.cfg.Server.Port,
			EncryptKey: a.cfg.Lark.EncryptKey,
			Events:     a.processor,
			RateRPS:    a.cfg.Server.RateRPS,
			RateBurst:  a.cfg.Server.RateBurst,
			Logger:     a.logger,
		})
	})
	g.Go(func() error {
		return a.processor.Run(ctx)
	})
	if _, ok := a.cfg.Incident.SessionExpiry(); ok {
		g.Go(func() error {
			a.manager.RunReaper(ctx, sched)
			return nil
		})
	} else {
		a.logger.Warn().Msg("session expiry disabled; sessions persist until ended or submitted")
	}

	a.logger.Info().
		Strs("channels", a.cfg.Incident.Channels).
		Int("owners", len(a.cfg.Incident.Owners)).
		Msg("signalbox online")

	err = g.Wait()
	a.manager.Wait()
	if a.automation != nil {
		a.automation.Wait()
	}
	return err
}

func (a *app) close() {
	if a.auditStore == nil {
		return
	}
	if err := a.auditStore.Close(); err != nil {
		a.logger.Error().Err(err).Msg("close audit store")
	}
}
