package prober_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/BearBump/TrackRelay/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/prober"
	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
)

var _ = Describe("Prober", func() {
	var (
		primary, backup *fake.Upstream
		srvA, srvB      *httptest.Server
		reg             *registry.Registry
		p               *prober.Prober
	)

	trip := func(id string) {
		for i := 0; i < 3; i++ {
			reg.RecordFailure(id, nil, time.Now())
		}
	}

	BeforeEach(func() {
		primary = fake.NewUpstream()
		backup = fake.NewUpstream()
		srvA = httptest.NewServer(primary)
		srvB = httptest.NewServer(backup)
		DeferCleanup(srvA.Close)
		DeferCleanup(srvB.Close)

		var err error
		reg, err = registry.New([]registry.Descriptor{
			{ID: "a", BaseURL: srvA.URL, Priority: 1, Active: true},
			{ID: "b", BaseURL: srvB.URL, Priority: 2, Active: true},
		}, registry.DefaultPolicy(), nil)
		Expect(err).NotTo(HaveOccurred())

		p = prober.New(reg, nil, nil).WithSettings(20*time.Millisecond, time.Second, "")
	})

	Describe("ProbeOnce", func() {
		It("should not probe endpoints with a closed circuit", func() {
			reg.RecordFailure("a", nil, time.Now())

			Expect(p.ProbeOnce(context.Background())).To(BeEmpty())
			Expect(primary.Probes()).To(BeZero())
			Expect(backup.Probes()).To(BeZero())
		})

		It("should treat a 404 as healthy and recover the endpoint", func() {
			trip("b")

			Expect(p.ProbeOnce(context.Background())).To(ConsistOf("b"))
			Expect(backup.Probes()).To(Equal(int64(1)))

			h, _ := reg.Health("b")
			Expect(h.Failures).To(BeZero())
			Expect(h.LastFailure.IsZero()).To(BeTrue())
			Expect(reg.Available("b", time.Now())).To(BeTrue())
		})

		It("should leave the endpoint tripped on a 5xx without counting it", func() {
			trip("b")
			backup.FailWith(http.StatusServiceUnavailable)

			Expect(p.ProbeOnce(context.Background())).To(BeEmpty())
			h, _ := reg.Health("b")
			Expect(h.Failures).To(Equal(3))
			Expect(p.Stats().TotalFailed).To(Equal(int64(1)))
		})

		It("should leave the endpoint tripped when it cannot be reached", func() {
			trip("b")
			srvB.Close()

			Expect(p.ProbeOnce(context.Background())).To(BeEmpty())
			h, _ := reg.Health("b")
			Expect(h.Failures).To(Equal(3))
		})

		It("should make the best-priority endpoint active again", func() {
			trip("a")
			Expect(reg.SwitchToNext(time.Now())).To(BeTrue())
			active, _ := reg.Active()
			Expect(active.ID).To(Equal("b"))

			Expect(p.ProbeOnce(context.Background())).To(ConsistOf("a"))
			active, _ = reg.Active()
			Expect(active.ID).To(Equal("a"))
		})

		It("should not steal the active selection for a worse endpoint", func() {
			trip("b")

			Expect(p.ProbeOnce(context.Background())).To(ConsistOf("b"))
			active, _ := reg.Active()
			Expect(active.ID).To(Equal("a"))
		})

		It("should hit the configured probe path", func() {
			var path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
			}))
			DeferCleanup(srv.Close)

			r, err := registry.New([]registry.Descriptor{{ID: "x", BaseURL: srv.URL, Priority: 1, Active: true}}, registry.DefaultPolicy(), nil)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 3; i++ {
				r.RecordFailure("x", nil, time.Now())
			}

			prober.New(r, nil, nil).WithSettings(0, 0, "health").ProbeOnce(context.Background())
			Expect(path).To(Equal("/health"))
		})
	})

	Describe("Run", func() {
		It("should sweep on every tick until cancelled", func() {
			trip("b")
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- p.Run(ctx) }()

			Eventually(func() bool { return reg.Available("b", time.Now()) }).
				WithTimeout(time.Second).WithPolling(10 * time.Millisecond).Should(BeTrue())

			cancel()
			Eventually(done).Should(Receive(MatchError(context.Canceled)))
			Expect(p.Stats().LastSweepAt).NotTo(BeNil())
		})

		It("should sweep immediately when triggered", func() {
			p = prober.New(reg, nil, nil).WithSettings(time.Hour, time.Second, "")
			trip("a")
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = p.Run(ctx) }()

			p.Trigger()
			Eventually(func() int64 { return p.Stats().TotalRecovered }).
				WithTimeout(time.Second).Should(Equal(int64(1)))
		})
	})
})
