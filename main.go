package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediabridge/work/buffer"
	"mediabridge/work/cache"
	"mediabridge/work/config"
	"mediabridge/work/database"
	"mediabridge/work/gateway"
	"mediabridge/work/handlers"
	"mediabridge/work/logger"
	"mediabridge/work/middleware"
	"mediabridge/work/remote"
	"mediabridge/work/segments"
	"mediabridge/work/transcode"
	"mediabridge/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging before anything else chatters
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	} else {
		logger.SetLogLevel(cfg.LogLevel)
	}

	// open the cache index; an unavailable index never blocks serving, the
	// cache just pays a remote metadata round-trip per item instead
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Warn("Cache index unavailable, continuing without it: %v", err)
		db = nil
	} else {
		defer db.Close()
	}

	// initialize buffer pool
	bufferPool := buffer.NewPool(cfg.CopyBufferKB * 1024)

	// initialize the remote object API client
	remoteClient := remote.NewClient(cfg)
	defer remoteClient.Close()

	// initialize worker pool for background cache fills
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// initialize the hybrid cache
	hybridCache, err := cache.New(cfg.CacheDir, db, remoteClient, workerPool)
	if err != nil {
		log.Fatalf("Failed to initialize hybrid cache: %v", err)
	}

	// transcode orchestrator and segment session manager
	orchestrator := transcode.New(cfg, bufferPool)
	sessionManager, err := segments.NewManager(cfg.SessionDir, orchestrator, cfg.SessionIdleTimeout, cfg.SessionReapInterval)
	if err != nil {
		log.Fatalf("Failed to initialize session manager: %v", err)
	}

	// create the gateway instance
	gw := gateway.New(cfg, bufferPool, remoteClient, hybridCache, sessionManager, orchestrator)
	defer gw.Shutdown()

	// start the session reaper
	go sessionManager.ReapLoop()

	// setup HTTP routes
	router := mux.NewRouter()

	// raw byte-range streaming
	router.HandleFunc("/media/{item}", handlers.HandleMedia(gw)).Methods("GET")

	// single-shot transcode stream
	router.HandleFunc("/media/{item}/transcode", handlers.HandleTranscode(gw)).Methods("GET")

	// segmented session manifest and segment files
	router.HandleFunc("/media/{item}/hls/index.m3u8", middleware.Gzip(handlers.HandleManifest(gw))).Methods("GET")
	router.HandleFunc("/media/{item}/hls/{segment}", handlers.HandleSegment(gw)).Methods("GET")

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting MediaBridge %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Port: %d", cfg.ListenPort)
	logger.Info("  - Media Roots: %v", cfg.MediaRoots)
	logger.Info("  - Cache Dir: %s", cfg.CacheDir)
	logger.Info("  - Session Dir: %s", cfg.SessionDir)
	logger.Info("  - Remote API: %s", utils.LogURL(cfg.ObfuscateUrls, cfg.Remote.BaseURL))
	logger.Info("  - Max. Transcodes: %d", cfg.MaxTranscodes)
	logger.Info("  - Segment Duration: %ds", cfg.SegmentDuration)
	logger.Info("  - Session Idle Timeout: %s", cfg.SessionIdleTimeout)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Copy Buffer: %s", utils.FormatBytes(cfg.CopyBufferKB*1024))
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
