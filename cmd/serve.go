package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/estatedesk/internal/api"
	"github.com/dayuer/estatedesk/internal/bus"
	"github.com/dayuer/estatedesk/internal/channels"
	"github.com/dayuer/estatedesk/internal/config"
	"github.com/dayuer/estatedesk/internal/console"
	"github.com/dayuer/estatedesk/internal/handoff"
	"github.com/dayuer/estatedesk/internal/lane"
	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/reply"
	"github.com/dayuer/estatedesk/internal/router"
	"github.com/dayuer/estatedesk/internal/session"
	"github.com/dayuer/estatedesk/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (channels, routing engine, HTTP API, operator console)",
	RunE:  runServe,
}

var (
	servePort      int
	serveStaticDir string
	serveNoSeed    bool
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config and PORT)")
	serveCmd.Flags().StringVar(&serveStaticDir, "static", "", "Directory served at /operator")
	serveCmd.Flags().BoolVar(&serveNoSeed, "no-seed", false, "Do not add sample listings to an empty database")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveStaticDir != "" {
		cfg.Server.StaticDir = serveStaticDir
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repo, _, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if cfg.Store.SeedSamples && !serveNoSeed {
		if n, err := store.SeedIfEmpty(ctx, repo); err != nil {
			log.Printf("[Store] ⚠️ Seeding samples failed: %v", err)
		} else if n > 0 {
			log.Printf("[Store] Seeded %d sample listings", n)
		}
	}

	rules := reply.DefaultRules()
	if cfg.Reply.RulesFile != "" {
		if rules, err = reply.LoadRules(cfg.Reply.RulesFile); err != nil {
			return fmt.Errorf("loading reply rules: %w", err)
		}
	}

	msgBus := bus.NewMessageBus()
	hub := console.NewHub()
	go hub.Run(ctx)

	chMgr := channels.NewManager()
	chMgr.Register(channels.NewWebChannel(hub, msgBus))
	facebook := registerChannels(cfg.Channels, chMgr, msgBus)

	lanes := lane.NewManager(lane.ManagerConfig{
		IdleTimeout: cfg.Lanes.IdleTimeout(),
		QueueSize:   cfg.Lanes.QueueSize,
	})
	defer lanes.Stop()

	sessions := session.NewStore()
	engine, err := router.New(router.Options{
		Sessions:   sessions,
		Handoff:    handoff.New(sessions, hub),
		Responder:  reply.NewGenerator(rules, repo),
		Dispatcher: chMgr,
		Repo:       repo,
		Notify:     hub,
		Indexer:    listing.NewIndexer(repo),
		Lanes:      lanes,
	})
	if err != nil {
		return err
	}

	consoleSrv := console.NewServer(ctx, console.DefaultServerConfig(), hub, engine)
	opts := api.Options{
		Repo:      repo,
		Sessions:  sessions,
		Channels:  chMgr,
		WebSocket: consoleSrv.HandleWebSocket,
		StaticDir: cfg.Server.StaticDir,
	}
	if facebook != nil {
		opts.Webhook = facebook
	}
	e := api.NewServer(api.NewHandler(opts))

	fmt.Printf("🏠 Starting estatedesk on port %d...\n", cfg.Server.Port)
	fmt.Printf("✓ Channels enabled: %v\n", chMgr.EnabledChannels())

	go engine.Run(ctx, msgBus)
	channelsDone := make(chan struct{})
	go func() {
		chMgr.StartAll(ctx)
		close(channelsDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		cancel()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	chMgr.StopAll()
	select {
	case <-channelsDone:
	case <-shutdownCtx.Done():
		log.Println("[Channels] ⚠️ Channels did not stop in time")
	}
	return nil
}

// registerChannels adds every configured network adapter. It returns the
// Messenger channel, whose webhook the HTTP server must route, or nil.
func registerChannels(cfg config.ChannelConfig, chMgr *channels.Manager, msgBus *bus.MessageBus) *channels.FacebookChannel {
	if tg := cfg.Telegram; tg != nil && tg.Token != "" {
		ch, err := channels.NewTelegramChannel(tg.Token, tg.BroadcastChannel, tg.AllowFrom, msgBus)
		if err != nil {
			log.Printf("[Telegram] ❌ %v", err)
		} else {
			chMgr.Register(ch)
			log.Println("Telegram channel enabled")
		}
	}

	if wa := cfg.WhatsApp; wa != nil {
		chMgr.Register(channels.NewWhatsAppChannel(wa.BridgeURL, wa.BridgeToken, wa.AllowFrom, msgBus))
		log.Println("WhatsApp channel enabled")
	}

	if dc := cfg.Discord; dc != nil && dc.Token != "" {
		ch, err := channels.NewDiscordChannel(dc.Token, dc.AllowFrom, msgBus)
		if err != nil {
			log.Printf("[Discord] ❌ %v", err)
		} else {
			chMgr.Register(ch)
			log.Println("Discord channel enabled")
		}
	}

	var facebook *channels.FacebookChannel
	if fb := cfg.Facebook; fb != nil && fb.VerifyToken != "" {
		facebook = channels.NewFacebookChannel(fb.VerifyToken, fb.PageToken, fb.AllowFrom, msgBus)
		chMgr.Register(facebook)
		log.Println("Facebook channel enabled")
	}
	return facebook
}
