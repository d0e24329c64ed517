package main

import (
	"log"
	"net/http"

	webAdapter "duka-agent/internal/adapters/web"
	"duka-agent/internal/ai"
	"duka-agent/internal/app"
	"duka-agent/internal/backend"
	"duka-agent/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	client, err := backend.NewClient(backend.Config{
		URL:      cfg.BackendURL,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		log.Fatalf("backend: %v", err)
	}
	defer client.Close()

	inventory := backend.NewInventoryService(client)
	classifier := ai.NewClassifier(cfg.OpenAIKey)
	svc := app.NewAppService(classifier, inventory)
	handler := webAdapter.NewHandler(svc)

	log.Printf("server starting on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
