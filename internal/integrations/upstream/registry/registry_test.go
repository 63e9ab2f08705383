package registry_test

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
)

var _ = Describe("Registry", func() {
	var (
		reg *registry.Registry
		now time.Time
		err error
	)

	descs := []registry.Descriptor{
		{ID: "backup", BaseURL: "http://b", Priority: 2, Active: true},
		{ID: "primary", BaseURL: "http://a", Priority: 1, Active: true},
		{ID: "disabled", BaseURL: "http://c", Priority: 0, Active: false},
		{ID: "tertiary", BaseURL: "http://d", Priority: 3, Active: true},
	}

	BeforeEach(func() {
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		reg, err = registry.New(descs, registry.Policy{FailureThreshold: 3, Cooldown: 5 * time.Minute}, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	ids := func(ds []registry.Descriptor) []string {
		out := make([]string, 0, len(ds))
		for _, d := range ds {
			out = append(out, d.ID)
		}
		return out
	}

	Describe("New", func() {
		It("should pick the best active endpoint as active", func() {
			active, ok := reg.Active()
			Expect(ok).To(BeTrue())
			Expect(active.ID).To(Equal("primary"))
		})

		It("should reject duplicate ids", func() {
			_, err := registry.New([]registry.Descriptor{{ID: "a"}, {ID: "a"}}, registry.DefaultPolicy(), nil)
			Expect(err).To(HaveOccurred())
		})

		It("should fill policy defaults", func() {
			r, err := registry.New(descs, registry.Policy{}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Policy()).To(Equal(registry.DefaultPolicy()))
		})
	})

	Describe("ListAvailable", func() {
		It("should list active endpoints by ascending priority", func() {
			Expect(ids(reg.ListAvailable(now))).To(Equal([]string{"primary", "backup", "tertiary"}))
		})

		It("should hide an endpoint whose circuit is open", func() {
			for i := 0; i < 3; i++ {
				reg.RecordFailure("primary", errors.New("boom"), now)
			}
			Expect(ids(reg.ListAvailable(now.Add(time.Minute)))).To(Equal([]string{"backup", "tertiary"}))
			Expect(reg.Available("primary", now)).To(BeFalse())
		})

		It("should list it again after the cooldown", func() {
			for i := 0; i < 3; i++ {
				reg.RecordFailure("primary", nil, now)
			}
			Expect(ids(reg.ListAvailable(now.Add(5 * time.Minute)))).To(ContainElement("primary"))
		})
	})

	Describe("RecordSuccess", func() {
		It("should reset the failure count", func() {
			reg.RecordFailure("backup", nil, now)
			reg.RecordFailure("backup", nil, now)
			reg.RecordSuccess("backup", now.Add(time.Second))

			h, ok := reg.Health("backup")
			Expect(ok).To(BeTrue())
			Expect(h.Failures).To(BeZero())
			Expect(h.LastSuccess).To(Equal(now.Add(time.Second)))
		})
	})

	Describe("SwitchToNext", func() {
		It("should move to the next available endpoint", func() {
			Expect(reg.SwitchToNext(now)).To(BeTrue())
			active, _ := reg.Active()
			Expect(active.ID).To(Equal("backup"))
		})

		It("should skip endpoints with an open circuit", func() {
			for i := 0; i < 3; i++ {
				reg.RecordFailure("backup", nil, now)
			}
			Expect(reg.SwitchToNext(now)).To(BeTrue())
			active, _ := reg.Active()
			Expect(active.ID).To(Equal("tertiary"))
		})

		It("should report false when nothing else is available", func() {
			for _, id := range []string{"backup", "tertiary"} {
				for i := 0; i < 3; i++ {
					reg.RecordFailure(id, nil, now)
				}
			}
			Expect(reg.SwitchToNext(now)).To(BeFalse())
			active, _ := reg.Active()
			Expect(active.ID).To(Equal("primary"))
		})
	})

	Describe("SetActive", func() {
		It("should reject unknown ids", func() {
			Expect(reg.SetActive("nope")).To(MatchError(registry.ErrUnknownEndpoint))
		})
	})

	Describe("Recover", func() {
		It("should clear failures and last failure", func() {
			for i := 0; i < 4; i++ {
				reg.RecordFailure("primary", nil, now)
			}
			Expect(reg.Tripped(now)).To(HaveLen(1))

			Expect(reg.Recover("primary", now)).To(Succeed())
			h, _ := reg.Health("primary")
			Expect(h.Failures).To(BeZero())
			Expect(h.LastFailure.IsZero()).To(BeTrue())
			Expect(reg.Tripped(now)).To(BeEmpty())
		})

		It("should stamp last success with the recovery time", func() {
			reg.RecordFailure("primary", nil, now)
			later := now.Add(time.Minute)

			Expect(reg.Recover("primary", later)).To(Succeed())
			h, _ := reg.Health("primary")
			Expect(h.LastSuccess).To(Equal(later))
		})
	})

	Describe("Snapshot", func() {
		It("should describe every endpoint", func() {
			for i := 0; i < 3; i++ {
				reg.RecordFailure("primary", nil, now)
			}
			snap := reg.Snapshot(now.Add(2 * time.Minute))
			Expect(snap.ActiveID).To(Equal("primary"))
			Expect(snap.Endpoints).To(HaveLen(4))

			var primary registry.EndpointStatus
			for _, e := range snap.Endpoints {
				if e.Descriptor.ID == "primary" {
					primary = e
				}
			}
			Expect(primary.State).To(Equal(registry.StateOpen))
			Expect(primary.Available).To(BeFalse())
			Expect(primary.CooldownRemaining).To(Equal(3 * time.Minute))
			Expect(primary.IsActive).To(BeTrue())
		})
	})

	Describe("Concurrent access", func() {
		It("should count one failure per recorded outcome", func() {
			const goroutines = 50

			var wg sync.WaitGroup
			wg.Add(goroutines)
			for i := 0; i < goroutines; i++ {
				go func() {
					defer wg.Done()
					reg.RecordFailure("tertiary", nil, now)
					_ = reg.ListAvailable(now)
				}()
			}
			wg.Wait()

			h, _ := reg.Health("tertiary")
			Expect(h.Failures).To(Equal(goroutines))
		})
	})
})
