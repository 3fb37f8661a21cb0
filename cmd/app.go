package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-mailer/internal/campaign"
	"github.com/sells-group/lead-mailer/internal/dispatch"
	"github.com/sells-group/lead-mailer/internal/events"
	"github.com/sells-group/lead-mailer/internal/mail"
	"github.com/sells-group/lead-mailer/internal/metrics"
	"github.com/sells-group/lead-mailer/internal/ocr"
	"github.com/sells-group/lead-mailer/internal/parser"
	"github.com/sells-group/lead-mailer/internal/render"
	"github.com/sells-group/lead-mailer/internal/store"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	Store    store.Store
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Campaign *campaign.Service
}

// Close releases the store and the event publisher.
func (a *app) Close() {
	if err := a.Events.Close(); err != nil {
		zap.L().Warn("close event publisher", zap.Error(err))
	}
	if err := a.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initApp wires the store, parser, renderer, transport, dispatch engine, and
// event publisher into a campaign service.
func initApp(ctx context.Context) (*app, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	a, err := buildApp(st)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return a, nil
}

func buildApp(st store.Store) (*app, error) {
	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr")
	}

	renderer, err := render.New()
	if err != nil {
		return nil, eris.Wrap(err, "init renderer")
	}

	transport, err := mail.NewTransport(cfg.Mail)
	if err != nil {
		return nil, eris.Wrap(err, "init mail transport")
	}

	pub, err := initEvents()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	policy := dispatch.NewPolicy(cfg.Dispatch)
	engine := dispatch.NewEngine(policy, transport, st, dispatch.WithObserver(m))

	svc := campaign.New(st, parser.New(extractor, cfg.OCR.Concurrency), renderer, engine, pub, campaign.Options{
		Branding:     render.BrandingFromConfig(cfg.Branding, cfg.Mail),
		DefaultTone:  cfg.Campaign.DefaultTone,
		PreviewLimit: cfg.Campaign.PreviewLimit,
		Observer:     m,
	})

	zap.L().Debug("app initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("transport", cfg.Mail.Transport),
		zap.String("ocr", cfg.OCR.Provider),
		zap.Bool("events", cfg.Events.AMQPURL != ""),
		zap.Durations("retry_schedule", policy.Retry.Schedule()),
		zap.Float64("sends_per_sec", float64(policy.Limiter.Limit())),
	)

	return &app{Store: st, Events: pub, Metrics: m, Campaign: svc}, nil
}

func initEvents() (events.Publisher, error) {
	if cfg.Events.AMQPURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.NewRabbitMQ(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		return nil, eris.Wrap(err, "init event publisher")
	}
	return pub, nil
}
