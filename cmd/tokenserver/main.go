package main

import (
	"log"
	"os"

	"tokenserver/internal/app"
	"tokenserver/internal/config"
)

func main() {
	cfgPath := os.Getenv("CONFIG")
	if cfgPath == "" {
		cfgPath = "cmd/tokenserver/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err = app.Run(cfg); err != nil {
		log.Fatalf("app run failed: %v", err)
	}
}
