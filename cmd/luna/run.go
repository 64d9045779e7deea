package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lunabot/luna/internal/adapter"
	"github.com/lunabot/luna/internal/bot"
	"github.com/lunabot/luna/internal/config"
	"github.com/lunabot/luna/internal/digest"
	"github.com/lunabot/luna/internal/memory"
	"github.com/lunabot/luna/internal/model"
	"github.com/lunabot/luna/internal/model/providers/anthropic"
	"github.com/lunabot/luna/internal/model/providers/gemini"
	"github.com/lunabot/luna/internal/model/providers/openai"
	"github.com/lunabot/luna/internal/reminder"
	"github.com/lunabot/luna/internal/scheduler"
	"github.com/lunabot/luna/internal/search"
	"github.com/lunabot/luna/internal/usage"
	"github.com/lunabot/luna/internal/voice"
	"github.com/lunabot/luna/internal/workspace"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssistant()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// mirroredSender copies outbound notifications to a secondary
// platform. Mirror failures are logged, never propagated.
type mirroredSender struct {
	primary reminder.Sender
	mirror  reminder.Sender
}

func (m *mirroredSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := m.mirror.Send(ctx, chatID, text); err != nil {
		slog.Warn("Mirror delivery failed", "error", err)
	}
	return m.primary.Send(ctx, chatID, text)
}

// components is everything runAssistant wires together; the status
// and digest commands reuse the read-only subset.
type components struct {
	workspaces *workspace.Manager
	reminders  *reminder.Store
	ledger     *usage.Ledger
	router     *model.Router
	digest     *digest.Generator
	sched      *scheduler.Scheduler
}

// buildComponents assembles the shared stores and services. sender
// receives reminder and digest deliveries.
func buildComponents(sender reminder.Sender) (*components, error) {
	workspaces, err := workspace.NewManager(cfg.Workspaces.Root, cfg.Workspaces.Default, cfg.Workspaces.Configs)
	if err != nil {
		return nil, fmt.Errorf("init workspaces: %w", err)
	}

	sched := scheduler.New()

	reminders, err := reminder.New(filepath.Join(workspaces.Root(), "reminders.json"), sched, sender)
	if err != nil {
		return nil, fmt.Errorf("init reminders: %w", err)
	}

	pricing := make(map[string]usage.Price, len(cfg.Models.Pricing))
	for family, p := range cfg.Models.Pricing {
		pricing[family] = usage.Price{Input: p.Input, Output: p.Output}
	}
	ledger, err := usage.NewLedger(filepath.Join(workspaces.Root(), "usage.json"), pricing)
	if err != nil {
		return nil, fmt.Errorf("init usage ledger: %w", err)
	}

	router := model.NewRouter(cfg.Models.Default, cfg.Models.Aliases)
	if cfg.Anthropic.APIKey != "" {
		router.Register(anthropic.New(cfg.Anthropic.APIKey), "claude")
	}
	if cfg.OpenAI.APIKey != "" {
		router.Register(openai.New(cfg.OpenAI.APIKey), "gpt", "o1", "o3", "o4")
	}
	if cfg.Gemini.APIKey != "" {
		geminiProvider, err := gemini.New(cfg.Gemini.APIKey)
		if err != nil {
			return nil, fmt.Errorf("init gemini: %w", err)
		}
		router.Register(geminiProvider, "gemini")
	}

	weatherTimeout, err := config.DurationOrDefault(cfg.Digest.WeatherTimeout, config.DefaultWeatherTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse digest.weather_timeout: %w", err)
	}

	notesDir, err := workspaces.Path(workspaces.Current())
	if err != nil {
		return nil, err
	}
	notesStore, err := memory.NewStore(notesDir, cfg.Workspaces.HistoryLimit)
	if err != nil {
		return nil, err
	}

	dig := digest.NewGenerator(digest.Config{
		Location:       cfg.Digest.Location,
		WeatherBaseURL: cfg.Digest.WeatherBaseURL,
		WeatherTimeout: weatherTimeout,
		Timezone:       cfg.Digest.Timezone,
	}, reminders, notesStore, sender)

	return &components{
		workspaces: workspaces,
		reminders:  reminders,
		ledger:     ledger,
		router:     router,
		digest:     dig,
		sched:      sched,
	}, nil
}

func runAssistant() error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (or set TELEGRAM_BOT_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One assistant per workspace root.
	lock, err := workspace.AcquireLock(cfg.Workspaces.Root)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	// The adapter exists before the bot so stores can deliver through
	// it; the inbound handler is bound just before Start.
	telegram := adapter.NewTelegram(cfg.Telegram.Token, nil, cfg.Telegram.UpdateTimeout)

	var sender reminder.Sender = telegram
	if cfg.Slack.Enabled {
		sender = &mirroredSender{
			primary: telegram,
			mirror:  adapter.NewSlack(cfg.Slack.BotToken, cfg.Slack.Channel),
		}
	}

	comps, err := buildComponents(sender)
	if err != nil {
		return err
	}

	luna := bot.New(bot.Deps{
		Config:     cfg,
		Workspaces: comps.workspaces,
		Reminders:  comps.reminders,
		Ledger:     comps.ledger,
		Router:     comps.router,
		Digest:     comps.digest,
		Searcher:   search.NewClient(cfg.Search.BraveAPIKey, cfg.Search.MaxResults),
		Voice:      voice.NewTranscriber(cfg.OpenAI.APIKey, cfg.OpenAI.WhisperModel),
		Out:        telegram,
		Files:      telegram,
		Sched:      comps.sched,
	})
	telegram.SetHandler(luna.Handle)

	if err := telegram.Start(ctx); err != nil {
		return err
	}
	if err := luna.RegisterJobs(); err != nil {
		return err
	}
	comps.sched.Start()

	slog.Info("Luna is running",
		"workspace", comps.workspaces.Current(),
		"providers", comps.router.Providers(),
	)

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = telegram.Stop(shutdownCtx)
	comps.sched.Stop()

	return nil
}
