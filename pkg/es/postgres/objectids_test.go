package postgres

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eriklieben/es-go/pkg/es"
)

var _ = Describe("ObjectIDs (ObjectIDProvider)", func() {
	BeforeEach(func() {
		for _, id := range []string{"order_1", "order_2", "order_3"} {
			_, err := backend.Documents.Create(ctx, "order", id, &es.StreamInfo{StreamIdentifier: id + "_v1", CurrentVersion: -1})
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("pages through object ids in order using the continuation token", func() {
		provider := es.NewObjectIDProvider(backend.ObjectIDs, 2)

		page, err := provider.List(ctx, "order", "", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(page.ObjectIDs).To(Equal([]string{"order_1", "order_2"}))
		Expect(page.ContinuationToken).To(Equal("order_2"))

		next, err := provider.List(ctx, "order", page.ContinuationToken, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.ObjectIDs).To(Equal([]string{"order_3"}))
		Expect(next.ContinuationToken).To(BeEmpty())
	})

	It("reports Exists and Count against the documents table", func() {
		provider := es.NewObjectIDProvider(backend.ObjectIDs, 100)

		exists, err := provider.Exists(ctx, "order", "order_2")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		exists, err = provider.Exists(ctx, "order", "order_404")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeFalse())

		count, err := provider.Count(ctx, "order")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(int64(3)))
	})
})
