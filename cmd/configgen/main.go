package main

import (
	"flag"
	"strings"

	"github.com/danmuck/collab/internal/config"
	"github.com/danmuck/collab/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", config.KindHub, "config kind: "+strings.Join(config.Kinds(), "|"))
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	observability.InitLogger("configgen")

	if *validate {
		path := *input
		if path == "" {
			p, err := config.DefaultPath(*kind)
			if err != nil {
				log.Fatal().Err(err).Msg("configgen")
			}
			path = p
		}
		if err := config.CheckFile(path, *kind); err != nil {
			log.Fatal().Err(err).Msg("configgen validate failed")
		}
		log.Info().Msgf("configgen validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		p, err := config.DefaultPath(*kind)
		if err != nil {
			log.Fatal().Err(err).Msg("configgen")
		}
		target = p
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("configgen write failed")
	}
	log.Info().Msgf("configgen wrote %s config template to %s", *kind, target)
}
