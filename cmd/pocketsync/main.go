package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/pocketsync/internal/app"
	"github.com/dmitrijs2005/pocketsync/internal/cli"
	"github.com/dmitrijs2005/pocketsync/internal/config"
	"github.com/dmitrijs2005/pocketsync/internal/flagx"
	"github.com/dmitrijs2005/pocketsync/internal/logging"
)

func main() {

	ctx := context.Background()
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	c := cli.NewApp(a.Coordinator(), a.Serve, os.Stdout)
	err = c.Execute(ctx, flagx.StripArgs(os.Args[1:], config.OwnFlags()))
	if cerr := a.Close(); cerr != nil {
		logger.Error(ctx, "shutdown error", "error", cerr)
	}
	if err != nil {
		os.Exit(1)
	}

}
