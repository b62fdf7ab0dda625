package postgres

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eriklieben/es-go/pkg/es"
)

var _ = Describe("Documents (DocumentStore)", func() {
	It("creates a document on first touch and returns the existing one on a second Create", func() {
		stream := &es.StreamInfo{StreamIdentifier: "order_1_v1", StreamType: "postgres", CurrentVersion: -1}
		doc, err := backend.Documents.Create(ctx, "order", "order_1", stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Active.StreamIdentifier).To(Equal("order_1_v1"))

		again, err := backend.Documents.Create(ctx, "order", "order_1", &es.StreamInfo{StreamIdentifier: "ignored"})
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Active.StreamIdentifier).To(Equal("order_1_v1"))
	})

	It("returns NotFoundError for a document that was never created", func() {
		_, err := backend.Documents.Get(ctx, "order", "missing")
		Expect(es.IsNotFoundError(err)).To(BeTrue())
	})

	It("CAS-guards Set on the stored hash and rejects a stale prevHash", func() {
		_, err := backend.Documents.Create(ctx, "order", "order_1", &es.StreamInfo{StreamIdentifier: "order_1_v1", CurrentVersion: -1})
		Expect(err).NotTo(HaveOccurred())

		doc, err := backend.Documents.Get(ctx, "order", "order_1")
		Expect(err).NotTo(HaveOccurred())

		doc.Hash = "hash-v1"
		doc.PrevHash = "hash-v0"
		Expect(backend.Documents.Set(ctx, &doc, "")).To(Succeed())

		stale := doc
		stale.Hash = "hash-v2"
		stale.PrevHash = "wrong-prev"
		err = backend.Documents.Set(ctx, &stale, "wrong-prev")
		Expect(es.IsConcurrencyError(err)).To(BeTrue())

		doc.Hash = "hash-v2-correct"
		Expect(backend.Documents.Set(ctx, &doc, "hash-v1")).To(Succeed())
	})

	It("resolves GetFirstByTag and GetByTag through the tags index", func() {
		_, err := backend.Documents.Create(ctx, "order", "order_1", &es.StreamInfo{StreamIdentifier: "s1", CurrentVersion: -1})
		Expect(err).NotTo(HaveOccurred())
		_, err = backend.Documents.Create(ctx, "order", "order_2", &es.StreamInfo{StreamIdentifier: "s2", CurrentVersion: -1})
		Expect(err).NotTo(HaveOccurred())

		Expect(backend.Tags.Add(ctx, es.TagEntry{TagType: es.TagTypeDocument, ObjectName: "order", Tag: "customer:acme", ObjectID: "order_1"})).To(Succeed())
		Expect(backend.Tags.Add(ctx, es.TagEntry{TagType: es.TagTypeDocument, ObjectName: "order", Tag: "customer:acme", ObjectID: "order_2"})).To(Succeed())

		first, err := backend.Documents.GetFirstByTag(ctx, "order", es.TagTypeDocument, "customer:acme")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.ObjectID).To(Equal("order_1"))

		all, err := backend.Documents.GetByTag(ctx, "order", es.TagTypeDocument, "customer:acme")
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))
	})
})

var _ = Describe("Tags (TagStore)", func() {
	It("adds idempotently and removes a tag entry", func() {
		entry := es.TagEntry{TagType: es.TagTypeStream, ObjectName: "order", Tag: "region:eu", ObjectID: "order_1"}
		Expect(backend.Tags.Add(ctx, entry)).To(Succeed())
		Expect(backend.Tags.Add(ctx, entry)).To(Succeed())

		ids, err := backend.Tags.ObjectIDsForTag(ctx, es.TagTypeStream, "order", "region:eu")
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(Equal([]string{"order_1"}))

		Expect(backend.Tags.Remove(ctx, es.TagTypeStream, "order", "region:eu", "order_1")).To(Succeed())
		ids, err = backend.Tags.ObjectIDsForTag(ctx, es.TagTypeStream, "order", "region:eu")
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(BeEmpty())
	})
})
