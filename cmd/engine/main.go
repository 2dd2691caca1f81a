package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rawblock/persona-engine/internal/api"
	"github.com/rawblock/persona-engine/internal/bank"
	"github.com/rawblock/persona-engine/internal/db"
	"github.com/rawblock/persona-engine/internal/engine"
)

func main() {
	log.Println("Starting RawBlock Persona Assessment Engine...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	signingKey := requireEnv("BANK_SIGNING_KEY")

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var err error
		dbConn, err = db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting results. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set, running without persistence")
	}

	// Bank hashes may be restricted via a comma-separated whitelist; an
	// empty variable allows every registered bank.
	var whitelist []string
	if wl := os.Getenv("BANK_HASH_WHITELIST"); wl != "" {
		for _, h := range strings.Split(wl, ",") {
			whitelist = append(whitelist, strings.TrimSpace(h))
		}
	}
	registry := bank.NewRegistry(whitelist)

	bankDir := getEnvOrDefault("BANK_DIR", "./banks")
	loaded := loadBanks(registry, bankDir, []byte(signingKey))
	if loaded == 0 {
		log.Fatalf("FATAL: no valid bank artifacts found in %s", bankDir)
	}
	log.Printf("Loaded %d bank(s) from %s", loaded, bankDir)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Every engine event streams to websocket subscribers and, when
	// connected, the DB event log.
	eng := engine.New(engine.Config{
		Banks:  registry,
		Events: api.BroadcastEvent(wsHub, dbConn),
	})

	// Setup the Gin Router
	r := api.SetupRouter(eng, registry, dbConn, wsHub)

	port := getEnvOrDefault("PORT", "5341")

	// Start the server
	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// loadBanks loads every *.json artifact in dir into the registry and
// returns how many verified. Invalid artifacts are logged and skipped so a
// single bad deployment cannot take down the whole fleet of banks.
func loadBanks(registry *bank.Registry, dir string, key []byte) int {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		log.Fatalf("FATAL: bad bank dir %s: %v", dir, err)
	}

	loaded := 0
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: cannot read bank artifact %s: %v", path, err)
			continue
		}
		b, err := bank.Load(raw, key)
		if err != nil {
			log.Printf("Warning: rejecting bank artifact %s: %v", path, err)
			continue
		}
		registry.Register(b)
		log.Printf("Registered bank %s (%s) hash=%s", b.Meta.BankID, b.Meta.Version, b.Meta.BankHash)
		loaded++
	}
	return loaded
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
