package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/collab/internal/hub"
	"github.com/danmuck/collab/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to collabhub config.toml")
	flag.Parse()

	observability.InitLogger("collabhub")
	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collabhub: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msgf("collabhub start id=%q http=%q stream=%q log=%s", cfg.ID, cfg.HTTPAddr, cfg.StreamAddr, cfg.LogBackend)
	if err := hub.NewService(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "collabhub: %v\n", err)
		os.Exit(1)
	}
}
