package postgres

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eriklieben/es-go/pkg/es"
)

var _ = Describe("Store (DataStore)", func() {
	var stream es.StreamInfo

	BeforeEach(func() {
		stream = es.StreamInfo{StreamIdentifier: "order_1", StreamType: "postgres", CurrentVersion: -1}
	})

	mustEvent := func(eventType string, schemaVersion int, payload any) es.InputEvent {
		e, err := es.NewInputEvent(eventType, schemaVersion, payload)
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	It("appends events and assigns sequential versions", func() {
		doc := es.Document{Active: stream}
		err := backend.Data.Append(ctx, doc, false, []es.InputEvent{
			mustEvent("OrderPlaced", 1, map[string]any{"id": "order_1"}),
			mustEvent("OrderShipped", 1, map[string]any{"id": "order_1"}),
		})
		Expect(err).NotTo(HaveOccurred())

		events, err := backend.Data.Read(ctx, doc, 0, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].Version).To(Equal(int64(0)))
		Expect(events[1].Version).To(Equal(int64(1)))
		Expect(events[0].EventType).To(Equal("OrderPlaced"))
	})

	It("reports the stream closed once a close sentinel has been appended, and excludes it from Read", func() {
		doc := es.Document{Active: stream}
		Expect(backend.Data.Append(ctx, doc, false, []es.InputEvent{
			mustEvent("OrderPlaced", 1, map[string]any{"id": "order_1"}),
		})).To(Succeed())
		doc.Active.CurrentVersion = 0

		sentinel := mustEvent(es.CloseSentinelType, 1, es.ClosedPayload{Reason: "migrated"})
		Expect(backend.Data.Append(ctx, doc, true, []es.InputEvent{sentinel})).To(Succeed())

		closed, event, err := backend.Data.Closed(ctx, doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(closed).To(BeTrue())
		Expect(event.EventType).To(Equal(es.CloseSentinelType))

		events, err := backend.Data.Read(ctx, doc, 0, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
	})

	It("rejects an append to a stream already bearing a close sentinel", func() {
		doc := es.Document{Active: stream}
		Expect(backend.Data.Append(ctx, doc, true, []es.InputEvent{
			mustEvent(es.CloseSentinelType, 1, es.ClosedPayload{Reason: "migrated"}),
		})).To(Succeed())
		doc.Active.CurrentVersion = 0

		err := backend.Data.Append(ctx, doc, false, []es.InputEvent{mustEvent("Late", 1, map[string]any{})})
		Expect(es.IsStreamClosedError(err)).To(BeTrue())
	})

	It("honors UntilVersion when reading a bounded range", func() {
		doc := es.Document{Active: stream}
		Expect(backend.Data.Append(ctx, doc, false, []es.InputEvent{
			mustEvent("A", 1, map[string]any{}),
			mustEvent("B", 1, map[string]any{}),
			mustEvent("C", 1, map[string]any{}),
		})).To(Succeed())

		until := int64(1)
		events, err := backend.Data.Read(ctx, doc, 0, &es.ReadOptions{UntilVersion: &until})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[1].Version).To(Equal(int64(1)))
	})

	It("streams events page by page via ReadAsStream", func() {
		doc := es.Document{Active: stream}
		Expect(backend.Data.Append(ctx, doc, false, []es.InputEvent{
			mustEvent("A", 1, map[string]any{}),
			mustEvent("B", 1, map[string]any{}),
			mustEvent("C", 1, map[string]any{}),
		})).To(Succeed())

		it, err := backend.Data.ReadAsStream(ctx, doc, 0, &es.ReadOptions{PageSize: 1})
		Expect(err).NotTo(HaveOccurred())
		defer it.Close()

		var seen []int64
		for it.Next(ctx) {
			seen = append(seen, it.Event().Version)
		}
		Expect(it.Err()).NotTo(HaveOccurred())
		Expect(seen).To(Equal([]int64{0, 1, 2}))
	})

	It("bounds Read itself to PageSize rows, not just ReadAsStream's client-side view", func() {
		doc := es.Document{Active: stream}
		Expect(backend.Data.Append(ctx, doc, false, []es.InputEvent{
			mustEvent("A", 1, map[string]any{}),
			mustEvent("B", 1, map[string]any{}),
			mustEvent("C", 1, map[string]any{}),
		})).To(Succeed())

		events, err := backend.Data.Read(ctx, doc, 0, &es.ReadOptions{PageSize: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].Version).To(Equal(int64(0)))
		Expect(events[1].Version).To(Equal(int64(1)))

		until := int64(1)
		boundedAndCapped, err := backend.Data.Read(ctx, doc, 0, &es.ReadOptions{UntilVersion: &until, PageSize: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(boundedAndCapped).To(HaveLen(1))
		Expect(boundedAndCapped[0].Version).To(Equal(int64(0)))
	})

	It("deletes only the business events in range when recovering from a failed multi-batch commit", func() {
		doc := es.Document{Active: stream}
		Expect(backend.Data.Append(ctx, doc, false, []es.InputEvent{
			mustEvent("A", 1, map[string]any{}),
			mustEvent("B", 1, map[string]any{}),
		})).To(Succeed())

		n, err := backend.Data.RemoveEventsForFailedCommit(ctx, doc, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		events, err := backend.Data.Read(ctx, doc, 0, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})
})
