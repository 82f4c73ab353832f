package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/inferedge/browsercore"
	"github.com/inferedge/browsercore/internal/abi"
	"github.com/inferedge/browsercore/internal/cache"
	"github.com/inferedge/browsercore/internal/download"
	"github.com/inferedge/browsercore/internal/log"
	"github.com/inferedge/browsercore/internal/scheduler"
	"github.com/inferedge/browsercore/internal/telemetry"
)

// bootstrap holds the long-lived components a demo command wires together
// before handing control to an Engine.
type bootstrap struct {
	cfg        *browsercore.FileConfig
	hub        *telemetry.Hub
	sched      *scheduler.Scheduler
	store      *cache.Store
	engine     *browsercore.Engine
	modelBytes []byte
}

func newBootstrap(configPath string) (*bootstrap, error) {
	cfg, err := browsercore.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	hub := telemetry.NewHub()
	sched := scheduler.New(hub, cfg.TickInterval)

	modelBytes, err := resolveModel(store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	adapter, err := abi.NewAdapter(modelBytes)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init kernel: %w", err)
	}

	engine, err := browsercore.NewTextEngine(cfg.ToEngineConfig(), adapter, hub, sched)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return &bootstrap{cfg: cfg, hub: hub, sched: sched, store: store, engine: engine, modelBytes: modelBytes}, nil
}

// resolveModel downloads the kernel WASM module bytes from ModelURL, or
// serves them from the cache; it fails when no model_url is configured.
func resolveModel(store *cache.Store, cfg *browsercore.FileConfig) ([]byte, error) {
	if cfg.ModelURL == "" {
		return nil, fmt.Errorf("model_url must be set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dl := download.New(store, http.DefaultClient)
	return dl.Download(ctx, download.Descriptor{
		ModelID: cfg.ModelID,
		URL:     cfg.ModelURL,
	}, func(p download.Progress) {
		log.Named("demo").Debug("downloading model",
			log.Int64("downloadedBytes", p.DownloadedBytes),
			log.Int64("totalBytes", p.TotalBytes))
	})
}

func (b *bootstrap) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.engine.Dispose(ctx); err != nil {
		log.Named("demo").Warn("engine dispose returned an error", log.Err(err))
	}
	b.sched.Close()
	if err := b.store.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close cache:", err)
	}
}
