package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/BearBump/TrackRelay/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	DescribeTable("level parsing",
		func(in string, want slog.Level) {
			Expect(logger.ParseLevel(in)).To(Equal(want))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("upper case", "WARN", slog.LevelWarn),
		Entry("warning alias", "warning", slog.LevelWarn),
		Entry("error", "error", slog.LevelError),
		Entry("unknown falls back to info", "verbose", slog.LevelInfo),
	)

	It("respects the configured level", func() {
		log := logger.New("warn", false, "dev")
		Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeFalse())
		Expect(log.Enabled(ctx, slog.LevelWarn)).To(BeTrue())
	})

	It("writes JSON in prod", func() {
		var buf bytes.Buffer
		logger.NewWithWriter(&buf, "info", false, "prod").Info("circuit opened", "endpoint", "primary")

		var rec map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &rec)).To(Succeed())
		Expect(rec).To(HaveKeyWithValue("msg", "circuit opened"))
		Expect(rec).To(HaveKeyWithValue("endpoint", "primary"))
		Expect(rec).To(HaveKeyWithValue("environment", "prod"))
	})

	It("writes text outside prod", func() {
		var buf bytes.Buffer
		logger.NewWithWriter(&buf, "debug", false, "dev").Debug("probe sweep")
		Expect(buf.String()).To(ContainSubstring("msg=\"probe sweep\""))
		Expect(buf.String()).To(ContainSubstring("environment=dev"))
	})
})
