// Command verify-backend checks connectivity against the inventory backend:
// version handshake, authentication, and a sample catalog read. It exits
// non-zero on the first failure.
package main

import (
	"context"
	"log"
	"time"

	"duka-agent/internal/backend"
	"duka-agent/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[CONFIG] %v", err)
	}

	client, err := backend.NewClient(backend.Config{
		URL:      cfg.BackendURL,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	info, err := client.Version(ctx)
	if err != nil {
		log.Fatalf("[VERSION] %v", err)
	}
	log.Printf("[VERSION] server %v", info["server_version"])

	// Any authenticated call proves the credentials; counting products also
	// proves the object endpoint answers.
	res, err := client.ExecuteKw(ctx, "product.product", "search", []any{[]any{}}, map[string]any{"limit": 5})
	if err != nil {
		log.Fatalf("[AUTH] %v", err)
	}
	log.Println("[AUTH] success")

	ids, _ := res.([]any)
	if len(ids) == 0 {
		log.Println("[CATALOG] no products found, catalog is empty")
		log.Println("[DONE] backend reachable")
		return
	}

	sample, err := client.ExecuteKw(ctx, "product.product", "read",
		[]any{[]any{ids[0]}},
		map[string]any{"fields": []string{"name", "list_price", "virtual_available"}})
	if err != nil {
		log.Fatalf("[CATALOG] read failed: %v", err)
	}
	log.Printf("[CATALOG] %d product(s), sample: %v", len(ids), sample)
	log.Println("[DONE] backend reachable")
}
