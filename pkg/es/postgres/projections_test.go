package postgres

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eriklieben/es-go/pkg/es"
)

var _ = Describe("ProjectionRecords (ProjectionRecordStore)", func() {
	It("upserts and retrieves a projection blob by name, tracking last-modified", func() {
		Expect(backend.ProjectionRecords.Set(ctx, "balances", "global", []byte(`{"total":1}`))).To(Succeed())

		data, modified, err := backend.ProjectionRecords.Get(ctx, "balances", "global")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(MatchJSON(`{"total":1}`))
		Expect(modified).NotTo(BeZero())

		exists, err := backend.ProjectionRecords.Exists(ctx, "balances", "global")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		deleted, err := backend.ProjectionRecords.Delete(ctx, "balances", "global")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())

		_, err = backend.ProjectionRecords.Exists(ctx, "balances", "global")
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("ExternalCheckpoints (ExternalCheckpointStore)", func() {
	It("is write-once: a Set against an existing fingerprint is a no-op", func() {
		Expect(backend.ExternalCheckpoints.Set(ctx, "balances", "fp-1", []byte(`{"c1":1}`))).To(Succeed())
		Expect(backend.ExternalCheckpoints.Set(ctx, "balances", "fp-1", []byte(`{"c1":99}`))).To(Succeed())

		data, err := backend.ExternalCheckpoints.Get(ctx, "balances", "fp-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(MatchJSON(`{"c1":1}`))
	})

	It("returns NotFoundError for an unknown fingerprint", func() {
		_, err := backend.ExternalCheckpoints.Get(ctx, "balances", "missing")
		Expect(es.IsNotFoundError(err)).To(BeTrue())
	})
})

var _ = Describe("Sink (DocumentSink)", func() {
	It("lands emitted documents idempotently, ignoring a duplicate id", func() {
		docs := []es.EmittedDocument{
			{ID: "doc-1", Data: []byte(`{"x":1}`)},
			{ID: "doc-2", Data: []byte(`{"x":2}`)},
		}
		Expect(backend.Sink.Append(ctx, "enrollments", docs)).To(Succeed())
		Expect(backend.Sink.Append(ctx, "enrollments", docs[:1])).To(Succeed())

		var count int
		err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM sink_documents WHERE projection_name = $1`, "enrollments").Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})

	It("is a no-op for an empty batch", func() {
		Expect(backend.Sink.Append(ctx, "enrollments", nil)).To(Succeed())
	})
})
