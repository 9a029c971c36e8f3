// Package app wires configuration, stores, providers, the engine, and
// the transports into one runnable unit.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pixflow/internal/artifact"
	"pixflow/internal/auth"
	"pixflow/internal/config"
	"pixflow/internal/flow"
	"pixflow/internal/provider"
	"pixflow/internal/session"
	"pixflow/internal/transport/telegram"
	"pixflow/internal/transport/ws"
)

type App struct {
	server   *ws.Server
	telegram *telegram.Bot
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	artifacts, err := newArtifactStore(cfg.Artifact)
	if err != nil {
		return nil, fmt.Errorf("init artifact store: %w", err)
	}

	gate := auth.NewGate(cfg.Auth.SharedSecret, auth.NewRecordStoreFromEnv(cfg.Auth.StorePath, cfg.Auth.PostgresDSN))
	if !gate.Enabled() {
		log.Println("auth gate disabled: FLOW_SHARED_SECRET not set")
	}

	registry, err := newProviderRegistry(ctx, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}

	engine := flow.NewEngine(session.NewStore(), artifacts, gate, registry, flow.Definitions(cfg.Auth.GatedFlows), cfg.Provider, nil)
	// the sequencer keeps each user's events in arrival order while
	// transports stay non-blocking
	conv := flow.NewSequencer(engine)

	a := &App{
		server: ws.NewServer(cfg.ListenAddr, ws.NewMux(ws.NewHandler(conv))),
	}
	if cfg.Telegram.Token != "" {
		bot, err := telegram.New(cfg.Telegram, conv)
		if err != nil {
			return nil, err
		}
		a.telegram = bot
	} else {
		log.Println("telegram transport disabled: TELEGRAM_TOKEN not set")
	}
	return a, nil
}

func newArtifactStore(cfg config.ArtifactConfig) (artifact.Store, error) {
	var origin artifact.Store
	switch strings.ToLower(cfg.Backend) {
	case "disk":
		store, err := artifact.NewDiskStore(cfg.BaseDir)
		if err != nil {
			return nil, err
		}
		origin = store
	case "s3":
		store, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		origin = store
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
	return artifact.NewCachedStore(origin, 0)
}

func newProviderRegistry(ctx context.Context, cfg config.ProviderConfig) (*provider.Registry, error) {
	var chains []*provider.Chain

	var maskClients []provider.Client
	if cfg.MaskPrimaryURL != "" {
		maskClients = append(maskClients, provider.NewGradioClient("mask-primary", cfg.MaskPrimaryURL, "", cfg.RequestTimeout))
	}
	if cfg.MaskSecondaryURL != "" {
		maskClients = append(maskClients, provider.NewGradioClient("mask-secondary", cfg.MaskSecondaryURL, "", cfg.RequestTimeout))
	}
	if len(maskClients) > 0 {
		chains = append(chains, provider.NewChain(provider.CapabilityMask, maskClients...))
	} else {
		log.Println("mask capability disabled: no MASK_PRIMARY_URL / MASK_SECONDARY_URL")
	}

	var segmind *provider.SegmindClient
	if cfg.SegmindAPIKey != "" {
		segmind = provider.NewSegmindClient(cfg.SegmindAPIKey, cfg.SegmindBaseURL, cfg.RequestTimeout)
	} else {
		log.Println("segmind clients disabled: SEGMIND_API_KEY not set")
	}

	var gemini *provider.GeminiClient
	if cfg.GeminiAPIKey != "" {
		var err error
		gemini, err = provider.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
	}

	inpaint := capabilityClients(segmind, gemini)
	if len(inpaint) > 0 {
		chains = append(chains, provider.NewChain(provider.CapabilityInpaint, inpaint...))
	}
	if segmind != nil {
		chains = append(chains, provider.NewChain(provider.CapabilityFaceSwap, segmind))
	}
	character := capabilityClients(segmind, gemini)
	if len(character) > 0 {
		chains = append(chains, provider.NewChain(provider.CapabilityCharacter, character...))
	}

	return provider.NewRegistry(chains...), nil
}

// capabilityClients collects the non-nil clients in fallback order.
func capabilityClients(segmind *provider.SegmindClient, gemini *provider.GeminiClient) []provider.Client {
	var clients []provider.Client
	if segmind != nil {
		clients = append(clients, segmind)
	}
	if gemini != nil {
		clients = append(clients, gemini)
	}
	return clients
}

func (a *App) Start() error {
	if a.telegram != nil {
		go a.telegram.Start()
	}
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	if a.telegram != nil {
		a.telegram.Stop()
	}
	return a.server.Shutdown(ctx)
}
