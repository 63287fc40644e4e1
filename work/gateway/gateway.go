package gateway

import (
	"context"

	"mediabridge/work/bridge"
	"mediabridge/work/buffer"
	"mediabridge/work/cache"
	"mediabridge/work/config"
	"mediabridge/work/logger"
	"mediabridge/work/remote"
	"mediabridge/work/segments"
	"mediabridge/work/source"
	"mediabridge/work/stream"
	"mediabridge/work/transcode"
)

// Gateway is the application orchestrator wiring the media-source resolver,
// the hybrid cache, the range-streaming server, the transcode orchestrator,
// the segment session manager and the loopback bridge into one serving
// surface. Handlers hang off this struct.
type Gateway struct {
	Config     *config.Config
	Resolver   *source.Resolver
	Streams    *stream.Server
	Transcoder *transcode.Orchestrator
	Sessions   *segments.Manager
	Bridge     *bridge.Bridge
	Cache      *cache.Cache
}

// New wires a fully operational gateway from its prebuilt parts. The
// resolver's bridge hook is connected here: remote sources get their
// transcode input URLs from the lazy loopback bridge.
func New(cfg *config.Config, bufferPool *buffer.Pool, remoteClient *remote.Client, hybridCache *cache.Cache, sessionManager *segments.Manager, orchestrator *transcode.Orchestrator) *Gateway {
	logger.Debug("{gateway - New} Initializing gateway")

	streams := stream.NewServer(bufferPool)

	resolver := &source.Resolver{
		Auth:  source.NewRootAuthorizer(cfg.MediaRoots),
		Cache: hybridCache,
	}

	loopback := bridge.New(resolver.Resolve, streams)
	resolver.Bridge = loopback.URLFor

	return &Gateway{
		Config:     cfg,
		Resolver:   resolver,
		Streams:    streams,
		Transcoder: orchestrator,
		Sessions:   sessionManager,
		Bridge:     loopback,
		Cache:      hybridCache,
	}
}

// ResolveSource maps a public item identifier to its media source.
func (g *Gateway) ResolveSource(ctx context.Context, itemID string) (source.Source, error) {
	return g.Resolver.Resolve(ctx, itemID)
}

// Shutdown tears down the long-lived pieces: live segment sessions and the
// loopback listener.
func (g *Gateway) Shutdown() {
	g.Sessions.Stop()
	if err := g.Bridge.Close(); err != nil {
		logger.Warn("{gateway - Shutdown} Bridge close: %v", err)
	}
}
