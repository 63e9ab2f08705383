package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/BearBump/TrackRelay/internal/client/retry"
	"github.com/BearBump/TrackRelay/internal/timeline"
)

type trackOpts struct {
	output   string
	timeout  time.Duration
	location string
}

func newTrackCmd(root *rootOpts) *cobra.Command {
	opts := &trackOpts{}
	cmd := &cobra.Command{
		Use:   "track BARCODE...",
		Short: "Print the tracking timeline of one or more barcodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var loc *time.Location
			if opts.location != "" {
				l, err := time.LoadLocation(opts.location)
				if err != nil {
					return errors.Wrap(err, "load timezone")
				}
				loc = l
			}

			c := retry.New(root.server, nil, root.logger(cmd.ErrOrStderr())).
				WithSettings(retry.DefaultPolicy(), opts.timeout, loc)

			var failed int
			for _, barcode := range args {
				if err := trackOne(cmd.Context(), c, barcode, opts.output, cmd.OutOrStdout()); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", barcode, retry.UserMessage(err))
				}
			}
			if failed > 0 {
				return errors.Errorf("%d of %d lookups failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", retry.DefaultAttemptTimeout, "Per-attempt timeout")
	cmd.Flags().StringVar(&opts.location, "tz", "", "IANA timezone of upstream dates (default local)")
	return cmd
}

type tracker interface {
	TrackWithRetry(ctx context.Context, barcode string) (timeline.Timeline, error)
}

func trackOne(ctx context.Context, c tracker, barcode, output string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tl, err := c.TrackWithRetry(ctx, barcode)
	if err != nil {
		return err
	}

	switch strings.ToLower(output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toView(barcode, tl))
	default:
		printTable(w, barcode, tl)
		return nil
	}
}

type stepView struct {
	At          *time.Time `json:"at,omitempty"`
	Status      int        `json:"status"`
	MainStatus  string     `json:"mainStatus"`
	SubStatus   string     `json:"subStatus,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Current     bool       `json:"current"`
}

type timelineView struct {
	Barcode  string     `json:"barcode"`
	Status   string     `json:"status"`
	Finished bool       `json:"finished"`
	Steps    []stepView `json:"steps"`
}

func toView(barcode string, tl timeline.Timeline) timelineView {
	v := timelineView{
		Barcode:  barcode,
		Status:   tl.Status,
		Finished: tl.Finished,
		Steps:    make([]stepView, 0, len(tl.Steps)),
	}
	for _, s := range tl.Steps {
		sv := stepView{
			Status:      s.Status,
			MainStatus:  s.MainStatus,
			SubStatus:   s.SubStatus,
			Location:    s.Location(),
			Description: s.Description,
			Current:     s.IsCurrent,
		}
		if s.Dated {
			at := s.At
			sv.At = &at
		}
		v.Steps = append(v.Steps, sv)
	}
	return v
}

func printTable(w io.Writer, barcode string, tl timeline.Timeline) {
	state := "in progress"
	if tl.Finished {
		state = "finished"
	}
	fmt.Fprintf(w, "%s: %s (%s)\n", barcode, tl.Status, state)
	for _, s := range tl.Steps {
		when := "-"
		if s.Dated {
			when = s.At.Format("2006-01-02 15:04")
		}
		marker := " "
		if s.IsCurrent {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-16s | %s", marker, when, s.MainStatus)
		if loc := s.Location(); loc != "" {
			fmt.Fprintf(w, " | %s", loc)
		}
		fmt.Fprintln(w)
	}
}
