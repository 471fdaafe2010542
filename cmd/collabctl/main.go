package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/collab/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to collabctl config.toml")
	docID := flag.String("doc", "", "document id (overrides config)")
	journalPath := flag.String("journal", "", "journal path (overrides config)")
	flag.Parse()

	observability.InitLogger("collabctl")
	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		exitf("%v", err)
	}
	if v := strings.TrimSpace(*docID); v != "" {
		cfg.DocumentID = v
	}
	if v := strings.TrimSpace(*journalPath); v != "" {
		cfg.JournalPath = v
	}

	c, err := newClient(cfg)
	if err != nil {
		exitf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
	}()

	log.Info().Msgf("collabctl start doc=%q transport=%s", cfg.DocumentID, cfg.Transport)
	if err := c.repl(ctx, os.Stdin, os.Stdout); err != nil {
		log.Warn().Err(err).Msg("collabctl input closed")
	}
	_ = c.session.Close()
	if err := <-runErr; err != nil {
		exitf("%v", err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "collabctl: "+format+"\n", args...)
	os.Exit(1)
}
