// Command seed fills the database with demo farmers, officers, forum threads
// and direct messages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"betelconnect/internal/config"
	"betelconnect/internal/database"
	"betelconnect/internal/middleware"
	"betelconnect/internal/seed"
)

func main() {
	farmers := flag.Int("farmers", 20, "Number of farmers to create")
	officers := flag.Int("officers", 4, "Number of officers to create")
	posts := flag.Int("posts", 40, "Number of posts to create")
	comments := flag.Int("comments", 6, "Thread nodes per post")
	messages := flag.Int("messages", 100, "Number of direct messages to create")
	fixture := flag.String("fixture", "", "YAML fixture to load instead of random data")
	clean := flag.Bool("clean", true, "Clean database before seeding")
	tokens := flag.Bool("tokens", false, "Print a 24h API token for every seeded user")
	fast := flag.Bool("fast", false, "Store plain passwords instead of bcrypt hashes")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := middleware.InitLogger(cfg.Env)

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	s := seed.NewSeeder(db, seed.Options{
		Farmers:         *farmers,
		Officers:        *officers,
		Posts:           *posts,
		CommentsPerPost: *comments,
		Messages:        *messages,
		SkipBcrypt:      *fast,
	})

	if *clean {
		if err := s.ClearAll(ctx); err != nil {
			logger.Error("cleanup failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	var res *seed.Result
	if *fixture != "" {
		fx, err := seed.LoadFixture(*fixture)
		if err != nil {
			logger.Error("failed to load fixture", slog.String("path", *fixture), slog.String("error", err.Error()))
			os.Exit(1)
		}
		res, err = s.ApplyFixture(ctx, fx)
		if err != nil {
			logger.Error("fixture seeding failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		res, err = s.SeedRandom(ctx)
		if err != nil {
			logger.Error("seeding failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("seeding complete",
		slog.Int("users", len(res.Users)),
		slog.Int("posts", res.Posts),
		slog.Int("thread_nodes", res.Nodes),
		slog.Int("messages", res.Messages),
	)

	if *tokens {
		for _, u := range res.Users {
			tok, err := middleware.IssueToken(cfg.JWTSecret, u.ID, u.Role, 24*time.Hour)
			if err != nil {
				logger.Error("failed to issue token", slog.Uint64("user_id", uint64(u.ID)), slog.String("error", err.Error()))
				continue
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", u.ID, u.Role, u.Email, tok)
		}
	}
}
