package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"trivia-round-service/internal/config"
	"trivia-round-service/internal/domain"
	"trivia-round-service/internal/infra/postgres"
)

// NewSeedCmd inserts a demo game and grants tickets.
func NewSeedCmd(configPath *string) *cobra.Command {
	var (
		gameID  string
		players []string
		startIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo game with two rounds and grant tickets to players",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			game := demoGame(gameID, time.Now().UTC().Add(startIn))
			return runSeed(cmd.Context(), cfg, game, players)
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "demo", "id of the seeded game")
	cmd.Flags().StringSliceVar(&players, "player", nil, "player ids to grant a ticket (repeatable)")
	cmd.Flags().DurationVar(&startIn, "start-in", time.Minute, "delay until the game starts")
	return cmd
}

func runSeed(ctx context.Context, cfg config.Config, game domain.Game, players []string) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	db := openBun(cfg.Postgres.URL)
	defer db.Close()
	if err := migrateDB(ctx, db); err != nil {
		return err
	}
	if err := postgres.SeedGame(ctx, db, game); err != nil {
		return err
	}
	store := postgres.NewProgressStore(db, nil, clockwork.NewRealClock())
	for _, p := range players {
		if err := store.GrantTicket(ctx, game.ID, p); err != nil {
			return err
		}
	}
	log.Info().
		Str("game_id", game.ID).
		Time("starts_at", game.StartsAt).
		Int("questions", game.Total()).
		Strs("players", players).
		Msg("demo game seeded")
	return nil
}

// demoGame is a short two-round game used by seed and by the in-memory fallback.
func demoGame(id string, start time.Time) domain.Game {
	return domain.Game{
		ID:              id,
		StartsAt:        start,
		EndsAt:          start.Add(30 * time.Minute),
		QuestionSeconds: 15,
		BreakSeconds:    10,
		MaxPlayers:      100,
		Flags:           domain.Flags{Sound: true},
		Questions: []domain.Question{
			{ID: "r1q1", Round: 1, Seq: 1, Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: 1},
			{ID: "r1q2", Round: 1, Seq: 2, Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter"}, CorrectOption: 1},
			{ID: "r1q3", Round: 1, Seq: 3, Prompt: "How many continents are there?", Options: []string{"5", "6", "7"}, CorrectOption: 2, Points: 2},
			{ID: "r2q1", Round: 2, Seq: 1, Prompt: "Name the composer of this piece", SoundURL: "https://cdn.example.com/trivia/r2q1.mp3", Options: []string{"Bach", "Mozart", "Chopin"}, CorrectOption: 1, Points: 2},
			{ID: "r2q2", Round: 2, Seq: 2, Prompt: "Which landmark is shown?", ImageURL: "https://cdn.example.com/trivia/r2q2.jpg", Options: []string{"Colosseum", "Parthenon", "Alhambra"}, CorrectOption: 0, Points: 2},
		},
	}
}
