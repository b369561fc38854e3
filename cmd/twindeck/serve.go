package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/twindeck/internal/analysis"
	"github.com/satindergrewal/twindeck/internal/api"
	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/autodj"
	"github.com/satindergrewal/twindeck/internal/config"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/output"
	"github.com/satindergrewal/twindeck/internal/queue"
	"github.com/satindergrewal/twindeck/internal/resolver"
	"github.com/satindergrewal/twindeck/internal/stream"
)

type ServeParams struct {
	Port    int    `short:"p" help:"Port to listen on (0 uses TWINDECK_PORT)." default:"0"`
	DropDir string `help:"Folder to watch for new tracks (overrides TWINDECK_DROP_DIR)." optional:"true"`
	AutoDJ  bool   `help:"Start with Auto DJ enabled." default:"false"`
	Speaker bool   `help:"Also play the master bus on the local sound card." default:"false"`
}

func ServeCmd() *cobra.Command {
	return boa.CmdT[ServeParams]{
		Use:         "serve",
		Short:       "Run the console, its control API and the listener streams",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *ServeParams, cmd *cobra.Command, args []string) {
			cfg := config.Load()
			if params.Port > 0 {
				cfg.Port = params.Port
			}
			if params.DropDir != "" {
				cfg.DropDir = params.DropDir
			}
			cfg.AutoDJEnabled = cfg.AutoDJEnabled || params.AutoDJ
			cfg.Speaker = cfg.Speaker || params.Speaker

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if err := runServe(ctx, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "serve: %v\n", err)
				os.Exit(1)
			}
		},
	}.ToCobra()
}

func autoDJConfig(cfg config.Config) autodj.Config {
	c := autodj.DefaultConfig()
	c.LeadTime = cfg.AutoDJLeadTime
	c.MixDuration = cfg.AutoDJMixDuration
	c.Timeout = cfg.AutoDJTimeout
	c.PollInterval = cfg.AutoDJPoll
	c.AutoStart = cfg.AutoDJAutoStart
	if e := autodj.Easing(cfg.AutoDJEasing); e == autodj.EaseLinear {
		c.Easing = e
	}
	return c
}

func runServe(ctx context.Context, cfg config.Config) error {
	log.Println("twindeck starting up...")

	var res audio.Resolver
	if cfg.ResolverAPIURL != "" {
		rc := resolver.NewClient(cfg.ResolverAPIURL, cfg.ResolverAPIKey, cfg.ResolverOutputDir)
		rc.Timeout = cfg.ResolverTimeout
		res = rc
		go func() {
			healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Minute)
			defer healthCancel()
			if err := rc.WaitForHealthy(healthCtx, 5*time.Second); err != nil {
				log.Printf("Resolver not available: %v", err)
			}
		}()
	} else {
		log.Println("Resolver not configured (set RESOLVER_API_URL to load remote catalog tracks)")
	}

	loader, err := audio.NewLoader(res, cfg.CacheSize)
	if err != nil {
		return err
	}

	decks := map[deck.ID]*deck.Deck{
		deck.A: deck.New(deck.A, loader, audio.SampleRate, deck.WithLoadTimeout(cfg.LoadTimeout)),
		deck.B: deck.New(deck.B, loader, audio.SampleRate, deck.WithLoadTimeout(cfg.LoadTimeout)),
	}

	// Master bus
	engine := mixer.NewEngine(decks[deck.A], decks[deck.B])
	if curve, err := mixer.ParseCurve(cfg.CrossfaderCurve); err == nil {
		engine.SetCurve(curve)
	} else {
		log.Printf("Ignoring crossfader curve: %v", err)
	}
	go engine.Run(ctx)

	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, engine.Frames())

	// Queue and Auto DJ
	q := queue.New()
	dj := autodj.NewMachine(map[deck.ID]autodj.Deck{
		deck.A: decks[deck.A],
		deck.B: decks[deck.B],
	}, q, engine, autoDJConfig(cfg))
	dj.SetEnabled(cfg.AutoDJEnabled)
	go dj.Run(ctx)

	if cfg.DropDir != "" {
		w := queue.NewWatcher(cfg.DropDir, q, time.Second)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Printf("Drop folder watcher stopped: %v", err)
			}
		}()
	}

	// Tempo/key analysis
	var store *analysis.Store
	if cfg.AnalysisDB != "" {
		store, err = analysis.OpenStore(cfg.AnalysisDB)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	analyzer := analysis.NewAnalyzer(analysis.Options{
		MinBPM:       cfg.MinBPM,
		MaxBPM:       cfg.MaxBPM,
		PreferredBPM: cfg.PreferredBPM,
	}, store)
	defer analyzer.Close()
	go analyzer.Run(ctx)

	if cfg.Speaker {
		go func() {
			if err := output.Play(ctx, broadcaster); err != nil {
				log.Printf("Speaker: %v", err)
			}
		}()
	}

	hub := stream.NewHub()
	webrtcHandler := stream.NewWebRTCHandler(broadcaster, stream.WebRTCOptions{
		StreamID:   cfg.StreamName,
		Bitrate:    cfg.OpusBitrate,
		ICEServers: cfg.ICEServers,
	})

	console := api.Console{
		Decks:    decks,
		Engine:   engine,
		Queue:    q,
		AutoDJ:   dj,
		Analyzer: analyzer,
		Listeners: func() map[string]int {
			return map[string]int{
				"bus":    broadcaster.ListenerCount(),
				"webrtc": webrtcHandler.PeerCount(),
				"events": hub.ClientCount(),
			}
		},
	}
	console.Connect(hub)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(console))
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.StreamName, cfg.StreamBitrate))
	mux.Handle("/offer", webrtcHandler)
	mux.Handle("/events", hub)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		webrtcHandler.CloseAll()
		server.Close()
	}()

	log.Printf("twindeck live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
