package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BearBump/TrackRelay/pkg/logger"
)

const defaultServer = "http://localhost:8080"

type rootOpts struct {
	server   string
	logLevel string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOpts{}
	cmd := &cobra.Command{
		Use:           "track-client",
		Short:         "Look up parcels through a TrackRelay server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	server := os.Getenv("TRACKRELAY_URL")
	if server == "" {
		server = defaultServer
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "TrackRelay base URL (env TRACKRELAY_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	cmd.AddCommand(newTrackCmd(opts))
	return cmd
}

func (o *rootOpts) logger(w io.Writer) *slog.Logger {
	return logger.NewWithWriter(w, o.logLevel, false, "cli")
}
