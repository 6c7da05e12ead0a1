package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bill-assistant/internal/model"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func ptr[T any](v T) *T { return &v }

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	assert.Error(t, err)
}

func TestUserEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository(newTestDB(t), logger.NewNop())

	a, err := users.Ensure(ctx, "openid-a")
	require.NoError(t, err)
	again, err := users.Ensure(ctx, "openid-a")
	require.NoError(t, err)
	b, err := users.Ensure(ctx, "openid-b")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
}

func TestFileRepository(t *testing.T) {
	ctx := context.Background()
	files := NewFileRepository(newTestDB(t), logger.NewNop())
	created := time.Date(2025, 5, 19, 8, 30, 0, 0, time.UTC)

	f := &model.UploadedFile{
		OwnerID:      7,
		OriginalName: "receipt.png",
		StorageKey:   "invoice/2025/05/19/abc.png",
		StorageURL:   "https://cdn.example.com/invoice/2025/05/19/abc.png",
		MimeType:     "image/png",
		SizeBytes:    2048,
		CreatedAt:    created,
	}
	require.NoError(t, files.Insert(ctx, f))
	require.NotZero(t, f.ID)

	got, err := files.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.StorageKey, got.StorageKey)
	assert.Equal(t, int64(2048), got.SizeBytes)
	assert.True(t, created.Equal(got.CreatedAt))

	dup := *f
	dup.ID = 0
	assert.Error(t, files.Insert(ctx, &dup), "storage keys are unique")

	assert.ErrorIs(t, files.SoftDelete(ctx, f.ID, 99), ErrNotFound)
	require.NoError(t, files.SoftDelete(ctx, f.ID, 7))
	_, err = files.GetByID(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBillRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	bills := NewBillRepository(newTestDB(t), logger.NewNop())

	tax := decimal.RequireFromString("5.66")
	b := &model.Bill{
		BillDraft: model.BillDraft{
			Name:             "午餐",
			Direction:        model.DirectionExpense,
			CounterpartyName: "沙县小吃",
			TotalAmount:      decimal.RequireFromString("100.00"),
			TaxAmount:        &tax,
			CurrencyCode:     "CNY",
			IssueDate:        model.NewDate(time.Date(2025, 5, 18, 0, 0, 0, 0, time.UTC)),
			SourceFileID:     ptr(int64(3)),
		},
		OwnerID:    7,
		CategoryID: ptr(int64(4)),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, bills.Insert(ctx, b))

	got, err := bills.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, got.TaxAmount)
	assert.True(t, got.TaxAmount.Equal(tax))
	assert.Nil(t, got.NetAmount)
	assert.Equal(t, "2025-05-18", got.IssueDate.String())
	assert.Equal(t, int64(4), *got.CategoryID)
	assert.Equal(t, model.DirectionExpense, got.Direction)

	list, err := bills.ListByOwner(ctx, 7, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	exists, err := bills.ExistsForSourceFile(ctx, 7, 3)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = bills.ExistsForSourceFile(ctx, 8, 3)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = bills.ExistsForSourceFile(ctx, 7, 4)
	require.NoError(t, err)
	assert.False(t, exists)

	dup := *b
	dup.ID = 0
	assert.Error(t, bills.Insert(ctx, &dup), "one bill per owner and source file")

	loose := *b
	loose.ID, loose.SourceFileID = 0, nil
	require.NoError(t, bills.Insert(ctx, &loose))
	loose.ID = 0
	require.NoError(t, bills.Insert(ctx, &loose), "bills without a source file are not constrained")
}

func TestCategoryRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	categories := NewCategoryRepository(db, logger.NewNop())

	n, err := SeedSystemCategories(ctx, db, categories)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultSystemCategories), n)

	n, err = SeedSystemCategories(ctx, db, categories)
	require.NoError(t, err)
	assert.Zero(t, n, "seeding is one-off")

	now := time.Now().UTC()
	mine := &model.Category{OwnerID: ptr(int64(1)), Name: "宠物", Code: "pet", SortOrder: 5, Enabled: true, CreatedAt: now, UpdatedAt: now}
	theirs := &model.Category{OwnerID: ptr(int64(2)), Name: "花草", Enabled: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, categories.Insert(ctx, mine))
	require.NoError(t, categories.Insert(ctx, theirs))

	t.Run("visibility", func(t *testing.T) {
		visible, err := categories.ListVisible(ctx, 1, true)
		require.NoError(t, err)
		assert.Len(t, visible, len(DefaultSystemCategories)+1)
		assert.Equal(t, "宠物", visible[0].Name, "sorted by sort order")
		for _, c := range visible {
			assert.NotEqual(t, "花草", c.Name)
		}
	})

	t.Run("exact lookup picks the lowest id", func(t *testing.T) {
		twin := &model.Category{OwnerID: ptr(int64(1)), Name: "餐饮", Enabled: true, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, categories.Insert(ctx, twin))

		c, err := categories.FindEnabledByName(ctx, "餐饮", 1)
		require.NoError(t, err)
		assert.True(t, c.IsSystem)
		assert.Less(t, c.ID, twin.ID)

		_, err = categories.FindEnabledByName(ctx, "花草", 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("disabled categories are not matched", func(t *testing.T) {
		require.NoError(t, categories.SetEnabled(ctx, mine.ID, false, now))
		_, err := categories.FindEnabledByName(ctx, "宠物", 1)
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := categories.ListVisible(ctx, 1, false)
		require.NoError(t, err)
		found := false
		for _, c := range all {
			found = found || c.ID == mine.ID
		}
		assert.True(t, found)
		require.NoError(t, categories.SetEnabled(ctx, mine.ID, true, now))
	})

	t.Run("uniqueness scope", func(t *testing.T) {
		exists, err := categories.ExistsByField(ctx, "name", "宠物", 1, 0)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = categories.ExistsByField(ctx, "name", "宠物", 1, mine.ID)
		require.NoError(t, err)
		assert.False(t, exists, "renaming to the same name is allowed")

		exists, err = categories.ExistsByField(ctx, "name", "交通", 1, 0)
		require.NoError(t, err)
		assert.False(t, exists, "system categories are outside a private scope")

		exists, err = categories.ExistsByField(ctx, "code", "pet", 2, 0)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = categories.ExistsByField(ctx, "description; DROP TABLE", "x", 1, 0)
		assert.Error(t, err)
	})

	t.Run("system rows are never written", func(t *testing.T) {
		sys, err := categories.FindEnabledByName(ctx, "交通", 1)
		require.NoError(t, err)

		sys.Name = "出行"
		assert.ErrorIs(t, categories.Update(ctx, sys), ErrNotFound)
		assert.ErrorIs(t, categories.SetEnabled(ctx, sys.ID, false, now), ErrNotFound)
		assert.ErrorIs(t, categories.SoftDelete(ctx, sys.ID, now), ErrNotFound)
	})

	t.Run("soft delete hides the row", func(t *testing.T) {
		require.NoError(t, categories.SoftDelete(ctx, theirs.ID, now))
		_, err := categories.GetByID(ctx, theirs.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := categories.ExistsByField(ctx, "name", "花草", 2, 0)
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
