package main

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"

	"github.com/jonanatree/offlinepay/acquirer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout))

	config, err := acquirer.LoadConfig(os.Getenv("ACQUIRER_CONFIG"))
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}

	app := acquirer.NewApp(logger, config)
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	app.Shutdown()
}
