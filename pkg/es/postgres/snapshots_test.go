package postgres

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eriklieben/es-go/pkg/es"
)

var _ = Describe("Snapshots (SnapshotStore)", func() {
	It("upserts and retrieves a snapshot by exact version and name", func() {
		snap := es.Snapshot{StreamID: "order_1", Version: 3, Name: "", Data: []byte(`{"total":10}`), DataType: "orderState"}
		Expect(backend.Snapshots.Set(ctx, snap)).To(Succeed())

		got, err := backend.Snapshots.Get(ctx, "order_1", 3, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Data).To(MatchJSON(`{"total":10}`))

		snap.Data = []byte(`{"total":20}`)
		Expect(backend.Snapshots.Set(ctx, snap)).To(Succeed())
		got, err = backend.Snapshots.Get(ctx, "order_1", 3, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Data).To(MatchJSON(`{"total":20}`))
	})

	It("resolves Latest as the highest version not exceeding maxVersion", func() {
		Expect(backend.Snapshots.Set(ctx, es.Snapshot{StreamID: "order_1", Version: 1, Data: []byte(`{}`)})).To(Succeed())
		Expect(backend.Snapshots.Set(ctx, es.Snapshot{StreamID: "order_1", Version: 5, Data: []byte(`{}`)})).To(Succeed())
		Expect(backend.Snapshots.Set(ctx, es.Snapshot{StreamID: "order_1", Version: 9, Data: []byte(`{}`)})).To(Succeed())

		latest, err := backend.Snapshots.Latest(ctx, "order_1", 7, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.Version).To(Equal(int64(5)))

		_, err = backend.Snapshots.Latest(ctx, "order_1", 0, "")
		Expect(es.IsNotFoundError(err)).To(BeTrue())
	})

	It("lists every snapshot for a stream in version order and deletes them", func() {
		Expect(backend.Snapshots.Set(ctx, es.Snapshot{StreamID: "order_1", Version: 1, Data: []byte(`{}`)})).To(Succeed())
		Expect(backend.Snapshots.Set(ctx, es.Snapshot{StreamID: "order_1", Version: 2, Data: []byte(`{}`)})).To(Succeed())

		list, err := backend.Snapshots.List(ctx, "order_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(list[0].Version).To(Equal(int64(1)))

		deleted, err := backend.Snapshots.Delete(ctx, "order_1", 1, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeTrue())

		n, err := backend.Snapshots.DeleteMany(ctx, "order_1", []int64{2}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		list, err = backend.Snapshots.List(ctx, "order_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(BeEmpty())
	})
})
