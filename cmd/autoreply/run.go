package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roelfdiedericks/autoreply/internal/bus"
	"github.com/roelfdiedericks/autoreply/internal/channels/whatsapp"
	"github.com/roelfdiedericks/autoreply/internal/config"
	"github.com/roelfdiedericks/autoreply/internal/dispatch"
	httpapi "github.com/roelfdiedericks/autoreply/internal/http"
	"github.com/roelfdiedericks/autoreply/internal/llm"
	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/metrics"
	"github.com/roelfdiedericks/autoreply/internal/status"
	"github.com/roelfdiedericks/autoreply/internal/store"
	"github.com/roelfdiedericks/autoreply/internal/transport"
)

// RunCmd starts the responder and blocks until interrupted.
type RunCmd struct {
	NoQR bool `help:"Do not draw pairing QR codes in the terminal."`
}

// offlineSender stands in for the transport when whatsapp is disabled, so
// history, metrics and settings stay available over HTTP.
type offlineSender struct{}

func (offlineSender) Send(ctx context.Context, target, text string) error {
	return fmt.Errorf("whatsapp disabled: %w", transport.ErrNotConnected)
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	L_info("autoreply starting", "version", version, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	st, err := store.Open(store.Config{Path: cfg.Store.Path})
	if err != nil {
		return err
	}
	defer st.Close()

	if err := importRules(ctx, cfg, st); err != nil {
		return err
	}

	m := metrics.New()
	fallback, err := newFallback(cfg, m)
	if err != nil {
		return err
	}

	b := bus.New()
	state := status.New(b)
	settings := store.NewCachedSettings(st, cfg.Store.SettingsCacheTTL)

	var (
		sender  dispatch.Sender = offlineSender{}
		session httpapi.SessionCloser
		wa      *whatsapp.Client
	)
	if cfg.WhatsApp.Enabled {
		waCfg := whatsapp.Config{SessionPath: cfg.WhatsApp.SessionPath}
		if !c.NoQR {
			waCfg.QROutput = os.Stdout
		}
		wa, err = whatsapp.New(ctx, waCfg)
		if err != nil {
			return err
		}
		defer wa.Stop()
		sender, session = wa, wa
	} else {
		L_warn("whatsapp disabled; replies cannot be delivered")
	}

	orch, err := dispatch.New(dispatch.Config{
		HandlerTimeout: cfg.Responder.HandlerTimeout,
		Location:       cfg.Location(),
	}, dispatch.Deps{
		Store:    settings,
		Sender:   sender,
		Fallback: fallback,
		Status:   state,
		Bus:      b,
		Metrics:  m,
		Format:   whatsapp.FormatMessage,
	})
	if err != nil {
		return err
	}

	if cfg.Rules.Watch {
		w, err := store.NewWatcher(st, cfg.Rules.File, func(res store.ImportResult, err error) {
			if err != nil {
				L_error("rules: re-import failed, keeping previous rules", "file", cfg.Rules.File, "error", err)
				return
			}
			L_info("rules: re-imported", "created", res.Created, "updated", res.Updated)
		})
		if err != nil {
			return fmt.Errorf("rules watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("rules watcher: %w", err)
		}
		defer w.Stop()
	}

	retention, err := store.NewRetention(st, cfg.Store.MessageTTLDays, cfg.Store.RetentionSchedule)
	if err != nil {
		return err
	}
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	if cfg.HTTP.Enabled {
		srv, err := httpapi.NewServer(httpapi.ServerConfig{Listen: cfg.HTTP.Listen}, httpapi.Deps{
			Status:     state,
			Bus:        b,
			Messages:   st,
			Dispatcher: orch,
			Session:    session,
			Metrics:    m,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	if wa != nil {
		wa.OnMessage(func(in transport.Inbound) {
			orch.HandleInbound(ctx, in)
		})
		wa.OnLifecycle(orch.HandleLifecycle)
		if err := wa.Start(ctx); err != nil {
			return err
		}
	}

	L_info("autoreply ready")
	<-ctx.Done()
	L_info("autoreply shutting down")

	// handlers get their budget to record their outcome before the store closes
	if wa != nil && !wa.Drain(cfg.Responder.HandlerTimeout) {
		L_warn("shutdown: handlers still running, closing anyway")
	}
	return nil
}

func importRules(ctx context.Context, cfg *config.Config, st *store.SQLiteStore) error {
	if cfg.Rules.File == "" {
		return nil
	}
	res, err := st.ImportRulesFile(ctx, cfg.Rules.File)
	if err != nil {
		return fmt.Errorf("import rules: %w", err)
	}
	L_info("rules: imported", "file", cfg.Rules.File, "created", res.Created, "updated", res.Updated)
	return nil
}

func newFallback(cfg *config.Config, m *metrics.Metrics) (*llm.Fallback, error) {
	provider, err := llm.NewProvider(llm.ProviderConfig{
		Driver:    cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	fb := llm.NewFallback(provider, llm.FallbackConfig{
		Timeout:     cfg.LLM.Timeout,
		Instruction: cfg.LLM.Instruction,
		FailureText: cfg.LLM.FailureText,
		EmptyText:   cfg.LLM.EmptyText,
	})
	fb.SetObserver(func(o llm.Outcome, t llm.ErrorType, elapsed time.Duration) {
		m.Fallback(string(o), string(t), elapsed)
	})
	L_debug("llm: fallback ready", "driver", provider.Name(), "model", provider.Model(), "timeout", fb.Timeout())
	return fb, nil
}
