package postgres

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eriklieben/es-go/pkg/es"
)

var _ = Describe("LiveMigrationExecutor against the real backend", func() {
	It("copies pending events, closes the source, and cuts the document over to the target stream", func() {
		mustEvent := func(eventType string, payload any) es.InputEvent {
			e, err := es.NewInputEvent(eventType, 1, payload)
			Expect(err).NotTo(HaveOccurred())
			return e
		}

		source, err := backend.Documents.Create(ctx, "order", "order_1", &es.StreamInfo{
			StreamIdentifier: "order_1_v1", StreamType: "postgres", CurrentVersion: -1,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(backend.Data.Append(ctx, source, false, []es.InputEvent{
			mustEvent("OrderPlaced", map[string]any{"id": "order_1"}),
			mustEvent("OrderShipped", map[string]any{"id": "order_1"}),
		})).To(Succeed())
		source.Active.CurrentVersion = 1

		target := es.StreamInfo{StreamIdentifier: "order_1_v2", StreamType: "postgres", CurrentVersion: -1}
		executor := es.NewLiveMigrationExecutor(backend.Data, backend.Documents)

		result, err := executor.Execute(ctx, source, target, es.MigrationConfig{MaxIterations: 5, Reason: "rebalance"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.EventsCopied).To(Equal(2))

		final, err := backend.Documents.Get(ctx, "order", "order_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(final.Active.StreamIdentifier).To(Equal("order_1_v2"))
		Expect(final.TerminatedStreams).To(HaveLen(1))
		Expect(final.TerminatedStreams[0].Stream.StreamIdentifier).To(Equal("order_1_v1"))

		closed, _, err := backend.Data.Closed(ctx, es.Document{Active: es.StreamInfo{StreamIdentifier: "order_1_v1"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(closed).To(BeTrue())

		targetEvents, err := backend.Data.Read(ctx, es.Document{Active: target}, 0, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(targetEvents).To(HaveLen(2))
		Expect(targetEvents[0].EventType).To(Equal("OrderPlaced"))
	})
})
