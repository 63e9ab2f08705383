package registry_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/BearBump/TrackRelay/internal/integrations/upstream/registry"
)

var _ = Describe("IsAvailable", func() {
	var (
		policy registry.Policy
		desc   registry.Descriptor
		now    time.Time
	)

	BeforeEach(func() {
		policy = registry.Policy{FailureThreshold: 3, Cooldown: 5 * time.Minute}
		desc = registry.Descriptor{ID: "primary", BaseURL: "http://a", Priority: 1, Active: true}
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	It("should allow a fresh endpoint", func() {
		Expect(registry.IsAvailable(desc, registry.Health{}, policy, now)).To(BeTrue())
	})

	It("should never allow an inactive endpoint", func() {
		desc.Active = false
		Expect(registry.IsAvailable(desc, registry.Health{}, policy, now)).To(BeFalse())
	})

	It("should stay closed below the threshold", func() {
		h := registry.Health{Failures: 2, LastFailure: now}
		Expect(registry.IsAvailable(desc, h, policy, now)).To(BeTrue())
	})

	It("should open at the threshold within the cooldown", func() {
		h := registry.Health{Failures: 3, LastFailure: now.Add(-4 * time.Minute)}
		Expect(registry.IsAvailable(desc, h, policy, now)).To(BeFalse())
		Expect(registry.CircuitState(h, policy, now)).To(Equal(registry.StateOpen))
		Expect(registry.CooldownRemaining(h, policy, now)).To(Equal(time.Minute))
	})

	It("should close again once the cooldown elapsed", func() {
		h := registry.Health{Failures: 7, LastFailure: now.Add(-5 * time.Minute)}
		Expect(registry.IsAvailable(desc, h, policy, now)).To(BeTrue())
		Expect(registry.CooldownRemaining(h, policy, now)).To(BeZero())
	})

	It("should report state names", func() {
		Expect(registry.StateClosed.String()).To(Equal("CLOSED"))
		Expect(registry.StateOpen.String()).To(Equal("OPEN"))
	})
})
