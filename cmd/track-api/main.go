package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

func main() {
	if err := run(); err != nil {
		slog.Error("track-api stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	app := mustBootstrapTrackAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
