// Command keygen mints an API key for a user and stores its hash.
//
// The raw key is printed exactly once; only the SHA-256 hash is persisted,
// so a lost key must be replaced rather than recovered. Intended for
// operator bootstrap and local development, not for end-user key issuance.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"pulsemetrics/internal/auth"
	"pulsemetrics/internal/config"
	"pulsemetrics/internal/db"
	"pulsemetrics/internal/types"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	userID := fs.String("user", "", "user ID the key belongs to (required)")
	ttl := fs.Duration("ttl", 0, "key lifetime; 0 means the key never expires")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}

	raw, err := newRawKey()
	if err != nil {
		return err
	}

	key := &auth.APIKey{
		ID:     uuid.NewString(),
		UserID: *userID,
		Hash:   auth.HashKey(raw),
	}
	if *ttl > 0 {
		expires := time.Now().UTC().Add(*ttl)
		key.ExpiresAt = &expires
	}

	if err := persist(context.Background(), key); err != nil {
		return err
	}

	fmt.Fprintf(out, "key id: %s\n", key.ID)
	fmt.Fprintf(out, "api key (store this now, it is not recoverable): %s\n", raw)
	return nil
}

// newRawKey returns a fresh "pm_" key with 256 bits of entropy.
func newRawKey() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	return "pm_" + hex.EncodeToString(buf[:]), nil
}

func persist(ctx context.Context, key *auth.APIKey) error {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	pool, err := db.NewPool(ctx, config.DatabaseConfig{
		URL:               types.SecretString(databaseURL),
		MaxConns:          2,
		MinConns:          1,
		MaxConnLifetime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.NewAPIKeyRepo(pool).Insert(ctx, key); err != nil {
		return fmt.Errorf("storing key: %w", err)
	}
	logger.Info("api key issued", "key_id", key.ID, "user_id", key.UserID)
	return nil
}
