package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/spatialqc/spatialqc/internal/config"
	"github.com/spatialqc/spatialqc/internal/store"
	"github.com/spatialqc/spatialqc/internal/store/model"
	"github.com/spatialqc/spatialqc/internal/validation"
)

func makeResult(status validation.Status, path string) *validation.Result {
	result := &validation.Result{
		RunID:      uuid.New(),
		TargetPath: path,
		Status:     status,
		StartedAt:  time.Now(),
		TableCheck: &validation.StageResult{
			Stage:      validation.StageTable,
			Name:       validation.StageName(validation.StageTable),
			Status:     validation.StagePassed,
			StartedAt:  time.Now(),
			ErrorCount: 0,
		},
		CompletedAt: time.Now(),
	}
	return result
}

var _ = Describe("validation result store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		gormdb = db

		s = store.NewStore(db)
		Expect(s.Migrate()).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM validation_results;")
	})

	Context("save and get", func() {
		It("round-trips the payload", func() {
			result := makeResult(validation.StatusCompleted, "/data/parcels.gpkg")
			result.TotalErrors = 3
			result.TotalWarnings = 1

			_, err := s.ValidationResult().Save(context.TODO(), model.NewValidationResult(result))
			Expect(err).To(BeNil())

			record, err := s.ValidationResult().Get(context.TODO(), result.RunID)
			Expect(err).To(BeNil())
			Expect(record.Status).To(Equal(string(validation.StatusCompleted)))
			Expect(record.TotalErrors).To(Equal(3))

			unpacked := record.Unpack()
			Expect(unpacked.RunID).To(Equal(result.RunID))
			Expect(unpacked.TableCheck).ToNot(BeNil())
			Expect(unpacked.TableCheck.Status).To(Equal(validation.StagePassed))
			Expect(unpacked.SchemaCheck).To(BeNil())
		})

		It("upserts the same run id", func() {
			result := makeResult(validation.StatusRunning, "/data/parcels.gpkg")
			_, err := s.ValidationResult().Save(context.TODO(), model.NewValidationResult(result))
			Expect(err).To(BeNil())

			result.Status = validation.StatusCancelled
			result.Message = "validation cancelled"
			_, err = s.ValidationResult().Save(context.TODO(), model.NewValidationResult(result))
			Expect(err).To(BeNil())

			count := 0
			Expect(gormdb.Raw("SELECT COUNT(*) FROM validation_results;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(1))

			record, err := s.ValidationResult().Get(context.TODO(), result.RunID)
			Expect(err).To(BeNil())
			Expect(record.Status).To(Equal(string(validation.StatusCancelled)))
			Expect(record.Message).To(Equal("validation cancelled"))
		})

		It("maps a missing record to ErrRecordNotFound", func() {
			_, err := s.ValidationResult().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("list", func() {
		It("filters by status and reports the unpaged total", func() {
			for i := 0; i < 3; i++ {
				r := makeResult(validation.StatusCompleted, fmt.Sprintf("/data/set-%d.gpkg", i))
				_, err := s.ValidationResult().Save(context.TODO(), model.NewValidationResult(r))
				Expect(err).To(BeNil())
			}
			failed := makeResult(validation.StatusFailed, "/data/broken.gpkg")
			_, err := s.ValidationResult().Save(context.TODO(), model.NewValidationResult(failed))
			Expect(err).To(BeNil())

			records, total, err := s.ValidationResult().List(context.TODO(),
				store.NewResultQueryFilter().ByStatus(string(validation.StatusCompleted)),
				store.NewResultQueryOptions().WithLimit(2))
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(3)))
			Expect(records).To(HaveLen(2))
		})

		It("filters by target path", func() {
			a := makeResult(validation.StatusCompleted, "/data/a.gpkg")
			b := makeResult(validation.StatusCompleted, "/data/b.gpkg")
			for _, r := range []*validation.Result{a, b} {
				_, err := s.ValidationResult().Save(context.TODO(), model.NewValidationResult(r))
				Expect(err).To(BeNil())
			}

			records, total, err := s.ValidationResult().List(context.TODO(),
				store.NewResultQueryFilter().ByTargetPath("/data/b.gpkg"), nil)
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(1)))
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal(b.RunID))
		})
	})

	Context("delete", func() {
		It("removes the record", func() {
			result := makeResult(validation.StatusCompleted, "/data/a.gpkg")
			_, err := s.ValidationResult().Save(context.TODO(), model.NewValidationResult(result))
			Expect(err).To(BeNil())

			Expect(s.ValidationResult().Delete(context.TODO(), result.RunID)).To(BeNil())
			_, err = s.ValidationResult().Get(context.TODO(), result.RunID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("reports a missing record", func() {
			Expect(s.ValidationResult().Delete(context.TODO(), uuid.New())).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("transaction", func() {
		It("commits a saved result", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			result := makeResult(validation.StatusCompleted, "/data/a.gpkg")
			_, err = s.ValidationResult().Save(ctx, model.NewValidationResult(result))
			Expect(err).To(BeNil())

			_, cerr := store.Commit(ctx)
			Expect(cerr).To(BeNil())

			count := 0
			Expect(gormdb.Raw("SELECT COUNT(*) FROM validation_results;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(1))
		})

		It("rolls back a saved result", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())

			result := makeResult(validation.StatusCompleted, "/data/a.gpkg")
			_, err = s.ValidationResult().Save(ctx, model.NewValidationResult(result))
			Expect(err).To(BeNil())

			_, rerr := store.Rollback(ctx)
			Expect(rerr).To(BeNil())

			count := 0
			Expect(gormdb.Raw("SELECT COUNT(*) FROM validation_results;").Scan(&count).Error).To(BeNil())
			Expect(count).To(Equal(0))
		})
	})

	Context("adapter", func() {
		It("implements the orchestrator's persistence contract", func() {
			adapter := store.NewResultAdapter(s)

			result := makeResult(validation.StatusCompleted, "/data/a.gpkg")
			Expect(adapter.Save(context.TODO(), result)).To(BeNil())

			got, err := adapter.Get(context.TODO(), result.RunID)
			Expect(err).To(BeNil())
			Expect(got.TargetPath).To(Equal("/data/a.gpkg"))

			items, total, err := adapter.List(context.TODO(),
				validation.ResultFilter{Status: validation.StatusCompleted},
				validation.Paging{Limit: 10})
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(1)))
			Expect(items).To(HaveLen(1))
		})
	})
})
