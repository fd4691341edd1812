package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Amdecodes/DocServe-sub001/config"
	"github.com/Amdecodes/DocServe-sub001/handler"
	"github.com/Amdecodes/DocServe-sub001/model"
	"github.com/Amdecodes/DocServe-sub001/pkg/apperr"
	"github.com/Amdecodes/DocServe-sub001/repository"
	"github.com/Amdecodes/DocServe-sub001/service"
)

// deps is everything the router serves from.
type deps struct {
	Orders    *service.OrderService
	Payments  *service.PaymentService
	Webhooks  handler.WebhookVerifier
	Fulfiller *service.Fulfiller
	Gate      *service.AccessGate
	Reaper    *service.Reaper
	Prices    *service.PriceBook
}

type app struct {
	deps    deps
	closers []func()
}

// newApp connects the configured backends. Optional ones fall back to
// in-process implementations when their address is empty.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	storage, err := service.NewMinioStorage(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	var store service.OrderStore
	if cfg.Database.DSN != "" {
		pool, err := repository.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := repository.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		store = repository.NewOrderRepository(pool)
	} else {
		slog.Warn("database.dsn is empty, orders are kept in memory")
		store = service.NewMemoryStore()
	}

	var claimer service.Claimer
	if cfg.Redis.Addr != "" {
		rdb := service.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		claimer = service.NewRedisClaimer(rdb)
	} else {
		claimer = service.NewMemoryClaimer()
	}

	var events service.Events = service.NopEvents{}
	if len(cfg.Kafka.Brokers) > 0 {
		k := service.NewKafkaEvents(cfg.Kafka.Brokers, cfg.Kafka.Topic, "docserve")
		a.closers = append(a.closers, func() { _ = k.Close() })
		events = k
	}

	var raster service.Rasterizer
	switch cfg.Renderer.Mode {
	case "gotenberg":
		raster = service.NewGotenbergRasterizer(cfg.Renderer.GotenbergURL, cfg.Server.RequestTimeout)
	default:
		chrome := service.NewChromeRasterizer(cfg.Server.RequestTimeout)
		a.closers = append(a.closers, chrome.Close)
		raster = chrome
	}

	var enricher service.Enricher = offlineEnricher{}
	if cfg.AI.APIKey != "" {
		llm, err := service.NewOpenAIModel(&cfg.AI)
		if err != nil {
			return nil, err
		}
		if enricher, err = service.NewLLMEnricher(llm); err != nil {
			return nil, err
		}
	} else {
		slog.Warn("ai.api_key is empty, documents are rendered without generated content")
	}

	prices, err := service.NewPriceBook(&cfg.Pricing)
	if err != nil {
		return nil, err
	}

	chapa := service.NewChapaClient(&cfg.Chapa)
	a.deps = wire(cfg, wiring{
		store:    store,
		storage:  storage,
		claimer:  claimer,
		events:   events,
		renderer: service.NewRenderer(raster, cfg.Renderer.ImageTimeout, cfg.Storage.Endpoint),
		enricher: enricher,
		gateway:  chapa,
		webhooks: chapa,
		prices:   prices,
	})
	return a, nil
}

// wiring holds the backends the services are assembled from.
type wiring struct {
	store    service.OrderStore
	storage  service.ObjectStorage
	claimer  service.Claimer
	events   service.Events
	renderer service.ArtifactRenderer
	enricher service.Enricher
	gateway  service.PaymentGateway
	webhooks handler.WebhookVerifier
	prices   *service.PriceBook
}

func wire(cfg *config.Config, w wiring) deps {
	publisher := service.NewPublisher(w.storage, cfg.Fulfillment.SignedURLTTL)
	fulfiller := service.NewFulfiller(service.FulfillerOptions{
		Store:     w.store,
		Enricher:  w.enricher,
		Renderer:  w.renderer,
		Publisher: publisher,
		Claimer:   w.claimer,
		Events:    w.events,
		Config:    &cfg.Fulfillment,
	})

	return deps{
		Orders:    service.NewOrderService(w.store, w.prices, w.gateway),
		Payments:  service.NewPaymentService(w.store, w.gateway, fulfiller, w.events, cfg.Fulfillment.AccessWindow),
		Webhooks:  w.webhooks,
		Fulfiller: fulfiller,
		Gate:      service.NewAccessGate(w.store, w.storage, publisher, cfg.Fulfillment.AccessWindow),
		Reaper:    service.NewReaper(w.store, w.storage, w.events, cfg.Fulfillment.ReaperBatch),
		Prices:    w.prices,
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// offlineEnricher stands in when no text model is configured.
type offlineEnricher struct{}

func (offlineEnricher) Enrich(context.Context, string, model.ServiceType, json.RawMessage) (*service.EnrichedContent, error) {
	return nil, fmt.Errorf("text model is not configured: %w", apperr.ErrUpstream)
}
