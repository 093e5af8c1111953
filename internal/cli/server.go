package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trivia-round-service/internal/app"
	"trivia-round-service/internal/config"
	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/infra/memory"
	"trivia-round-service/internal/infra/natsbus"
	"trivia-round-service/internal/infra/postgres"
	infraredis "trivia-round-service/internal/infra/redis"
	"trivia-round-service/internal/metrics"
	"trivia-round-service/internal/submission"
	transport "trivia-round-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	clock := clockwork.NewRealClock()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
	gameTTL := config.TTLDuration(cfg.Game.CacheTTL, 10*time.Minute)

	var (
		loader   memory.GameLoader
		games    app.GameRepository
		progress app.ProgressRepository
	)

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewGameLoader(pool)
	} else {
		static := memory.NewStaticGameLoader(nil)
		static.Put(demoGame("demo", time.Now().UTC().Add(time.Minute)))
		loader = static
		log.Warn().Msg("postgres not configured, serving the in-memory demo game")
	}

	if redisClient != nil {
		games = infraredis.NewGameRepository(redisClient, loader, gameTTL)
	} else {
		games = memory.NewGameRepository(loader, gameTTL)
	}

	if cfg.Postgres.URL != "" {
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		progress = postgres.NewProgressStore(db, games, clock)
	} else {
		store := memory.NewProgressStore(games, clock)
		// anyone may play the demo game
		progress = ticketingStore{ProgressStore: store}
	}

	var markers app.BreakMarkerStore
	var sessions app.SessionRepository
	if redisClient != nil {
		markers = infraredis.NewBreakMarkerStore(redisClient, redisTTL)
		host, _ := os.Hostname()
		sessions = infraredis.NewSessionStore(redisClient, redisTTL, host)
	} else {
		markers = memory.NewBreakMarkerStore()
		sessions = memory.NewSessionStore()
	}

	var events app.EventPublisher = memory.NewEventRecorder(1000)
	if cfg.NATS.URL != "" {
		nc, err := natsbus.Connect(cfg.NATS.URL, "trivia-round-service")
		if err != nil {
			return err
		}
		defer nc.Drain()
		events = natsbus.NewPublisher(nc, cfg.NATS.SubjectPrefix)
	}

	subCfg := submission.DefaultConfig()
	if cfg.Submission.MaxRetries > 0 {
		subCfg.MaxRetries = cfg.Submission.MaxRetries
	}
	subCfg.InitialBackoff = config.TTLDuration(cfg.Submission.InitialBackoff, subCfg.InitialBackoff)
	subCfg.RequestTimeout = config.TTLDuration(cfg.Submission.RequestTimeout, subCfg.RequestTimeout)

	service := app.NewGameService(app.Deps{
		Games:    games,
		Progress: progress,
		Markers:  markers,
		Events:   events,
		Sessions: sessions,
		Metrics:  metrics.New(reg),
		Clock:    clock,
	}, app.Options{
		Tick:       config.TTLDuration(cfg.Server.Tick, 0),
		Submission: subCfg,
		Resubmit:   config.TTLDuration(cfg.Submission.ResubmitAfter, 0),
	})

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(transport.RouterConfig{
			Service:  service,
			Gatherer: reg,
			WS: transport.WSOptions{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				MessageRate:    cfg.Server.AnswerRate,
				MessageBurst:   cfg.Server.AnswerBurst,
			},
		}),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting trivia service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// stop sessions first so hijacked websocket handlers see their channels close
		if err := service.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("sessions did not stop in time")
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ticketingStore grants a ticket on first sight so the demo game can be
// joined without a ticket purchase flow.
type ticketingStore struct {
	*memory.ProgressStore
}

func (s ticketingStore) GetProgress(ctx context.Context, gameID, playerID string) (domain.PlayerProgress, error) {
	p, err := s.ProgressStore.GetProgress(ctx, gameID, playerID)
	if errors.Is(err, domain.ErrProgressNotFound) {
		s.GrantTicket(gameID, playerID)
		return s.ProgressStore.GetProgress(ctx, gameID, playerID)
	}
	return p, err
}
