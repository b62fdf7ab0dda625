package postgres

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eriklieben/es-go/pkg/es"
)

var _ = Describe("Statuses (StatusStore) via StatusCoordinator", func() {
	It("drives a full rebuild lifecycle through to Active and clears the rebuild token", func() {
		coordinator := es.NewStatusCoordinator(backend.Statuses)
		now := time.Now().UTC()

		token, err := coordinator.StartRebuild(ctx, "balances", "acct_1", es.RebuildFull, time.Hour, now)
		Expect(err).NotTo(HaveOccurred())

		status, err := coordinator.GetStatus(ctx, "balances", "acct_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Status).To(Equal(es.StatusRebuilding))

		Expect(coordinator.StartCatchUp(ctx, token, now.Add(time.Minute))).To(Succeed())
		Expect(coordinator.MarkReady(ctx, token, now.Add(2*time.Minute))).To(Succeed())
		Expect(coordinator.CompleteRebuild(ctx, token, now.Add(3*time.Minute))).To(Succeed())

		status, err = coordinator.GetStatus(ctx, "balances", "acct_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Status).To(Equal(es.StatusActive))
		Expect(status.RebuildToken).To(BeNil())
	})

	It("rejects a transition carrying an expired token", func() {
		coordinator := es.NewStatusCoordinator(backend.Statuses)
		now := time.Now().UTC()

		token, err := coordinator.StartRebuild(ctx, "balances", "acct_2", es.RebuildFull, time.Minute, now)
		Expect(err).NotTo(HaveOccurred())

		err = coordinator.StartCatchUp(ctx, token, now.Add(2*time.Minute))
		Expect(err).To(HaveOccurred())
	})

	It("finds rebuilds in a given status via GetByStatus", func() {
		coordinator := es.NewStatusCoordinator(backend.Statuses)
		now := time.Now().UTC()
		_, err := coordinator.StartRebuild(ctx, "balances", "acct_3", es.RebuildFull, time.Hour, now)
		Expect(err).NotTo(HaveOccurred())

		rebuilding, err := coordinator.GetByStatus(ctx, "balances", es.StatusRebuilding)
		Expect(err).NotTo(HaveOccurred())
		ids := make([]string, 0, len(rebuilding))
		for _, s := range rebuilding {
			ids = append(ids, s.ObjectID)
		}
		Expect(ids).To(ContainElement("acct_3"))
	})

	It("disables and re-enables a projection for one object id", func() {
		coordinator := es.NewStatusCoordinator(backend.Statuses)
		now := time.Now().UTC()

		Expect(backend.Statuses.Set(ctx, es.ProjectionStatus{
			ProjectionName: "balances", ObjectID: "acct_4", Status: es.StatusActive, StatusChangedAt: now,
		})).To(Succeed())

		Expect(coordinator.Disable(ctx, "balances", "acct_4", now.Add(time.Minute))).To(Succeed())
		status, err := coordinator.GetStatus(ctx, "balances", "acct_4")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Status).To(Equal(es.StatusDisabled))

		Expect(coordinator.Enable(ctx, "balances", "acct_4", now.Add(2*time.Minute))).To(Succeed())
		status, err = coordinator.GetStatus(ctx, "balances", "acct_4")
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Status).To(Equal(es.StatusActive))
	})
})
