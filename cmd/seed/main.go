// Command main runs the database seeder for the poll API.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"pollapp/internal/cache"
	"pollapp/internal/config"
	"pollapp/internal/database"
	"pollapp/internal/seed"
)

func main() {
	preset := flag.String("preset", "small", "Preset to apply")
	file := flag.String("file", "", "YAML file with presets (defaults to the built-in set)")
	shouldClean := flag.Bool("clean", false, "Clean database before seeding")
	seedValue := flag.Int64("seed", 0, "Random seed (0 uses the current time)")
	flag.Parse()

	presets, err := seed.LoadPresets(*file)
	if err != nil {
		log.Fatalf("Failed to load presets: %v", err)
	}
	p, ok := presets[*preset]
	if !ok {
		log.Fatalf("Unknown preset %q (available: %s)", *preset, strings.Join(seed.Names(presets), ", "))
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	cache.InitRedis(cfg.RedisURL)

	if *seedValue == 0 {
		*seedValue = time.Now().UnixNano()
	}
	log.Printf("Seeding preset %s (seed=%d, clean=%v)", *preset, *seedValue, *shouldClean)

	ctx := context.Background()
	s := seed.NewSeeder(db, *seedValue)
	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	sum, err := s.Apply(ctx, p)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	// Seeded rows bypass the repositories, so cached aggregates are stale.
	cache.Invalidate(ctx, cache.AnalyticsKey)

	log.Printf("Created %d users, %d polls, %d votes, %d comments, %d reactions",
		sum.Users, sum.Polls, sum.Votes, sum.Comments, sum.Reactions)
	log.Printf("All seeded users have the password: %s", seed.DefaultPassword)
}
