package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"

	"github.com/arhyth/ledgerxgo"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	cfg, err := ledgerxgo.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}
	if _, err = cfg.SystemAccounts(); err != nil {
		logger.Fatal().Err(err).Msg("error parsing system accounts")
	}

	lh, err := ledgerxgo.NewLocalHelper(cfg.Database.ConnectionString, cfg.Database.SystemAccounts)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting local helper")
	}
	if err = lh.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("error migrating database")
	}
	if err = lh.PrepareSystemAccounts(); err != nil {
		logger.Fatal().Err(err).Msg("error preparing system accounts")
	}
	logger.Info().Msg("database ready")
}
