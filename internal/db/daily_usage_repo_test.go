package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for Query ---

type mockRows struct {
	data   [][]any
	idx    int
	closed bool
	errVal error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *time.Time:
			*v = row[i].(time.Time)
		case *int:
			*v = row[i].(int)
		case *string:
			*v = row[i].(string)
		case *types.PlatformUsage:
			*v = row[i].(types.PlatformUsage)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// scanDailyUsage fills a Scan destination list with a fixed daily usage row.
func scanDailyUsage(u types.DailyUsage) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = u.UserID
		*dest[1].(*time.Time) = u.Date
		*dest[2].(*int) = u.APICalls
		*dest[3].(*int) = u.AnalysesRun
		*dest[4].(*int) = u.ReportsGenerated
		*dest[5].(*int) = u.ScheduledPosts
		*dest[6].(*int) = u.AIGenerations
		*dest[7].(*types.PlatformUsage) = u.PlatformUsage
		*dest[8].(*time.Time) = u.CreatedAt
		*dest[9].(*time.Time) = u.UpdatedAt
		return nil
	}
}

func sqlContaining(fragment string) any {
	return mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, fragment)
	})
}

// --- DailyUsageRepo Tests ---

func TestDailyUsageRepo_GetOrCreate_InsertsThenReads(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	stored := types.DailyUsage{
		UserID:        "user_1",
		Date:          day,
		APICalls:      42,
		PlatformUsage: types.PlatformUsage{"twitter": 30},
	}

	db.On("Exec", mock.Anything, sqlContaining("ON CONFLICT (user_id, date) DO NOTHING"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", mock.Anything, sqlContaining("SELECT"), mock.Anything).
		Return(&mockRow{scanFn: scanDailyUsage(stored)})

	got, err := repo.GetOrCreate(context.Background(), "user_1", day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 42, got.APICalls)
	assert.Equal(t, day, got.Date)
	db.AssertExpectations(t)
}

func TestDailyUsageRepo_GetOrCreate_InsertError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.GetOrCreate(context.Background(), "user_1", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestDailyUsageRepo_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.Get(context.Background(), "user_1", time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundUsage, appErr.Code)
}

func TestDailyUsageRepo_Increment_RejectsUnknownType(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	_, err := repo.Increment(context.Background(), "user_1", time.Now(), types.UsageType("bogus"), 1, "")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationUsageType, appErr.Code)

	// No SQL runs for an unknown usage type.
	db.AssertNotCalled(t, "Exec")
	db.AssertNotCalled(t, "QueryRow")
}

func TestDailyUsageRepo_Increment_UpdatesCounterColumn(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	before := types.DailyUsage{UserID: "user_1", Date: day, AnalysesRun: 2}
	after := types.DailyUsage{UserID: "user_1", Date: day, AnalysesRun: 5}

	db.On("Exec", mock.Anything, sqlContaining("ON CONFLICT"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)
	db.On("QueryRow", mock.Anything, sqlContaining("SELECT"), mock.Anything).
		Return(&mockRow{scanFn: scanDailyUsage(before)}).Once()
	db.On("QueryRow", mock.Anything, sqlContaining("UPDATE daily_usage"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "analyses_run = analyses_run + $3")
		}).
		Return(&mockRow{scanFn: scanDailyUsage(after)})

	got, err := repo.Increment(context.Background(), "user_1", day, types.UsageAnalysis, 3, "")
	require.NoError(t, err)
	assert.Equal(t, 5, got.AnalysesRun)
	db.AssertExpectations(t)
}

func TestDailyUsageRepo_Increment_PassesPlatform(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	after := types.DailyUsage{
		UserID:        "user_1",
		Date:          day,
		APICalls:      1,
		PlatformUsage: types.PlatformUsage{"instagram": 1},
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("QueryRow", mock.Anything, sqlContaining("SELECT"), mock.Anything).
		Return(&mockRow{scanFn: scanDailyUsage(types.DailyUsage{UserID: "user_1", Date: day})}).Once()
	db.On("QueryRow", mock.Anything, sqlContaining("UPDATE daily_usage"), mock.Anything).
		Run(func(args mock.Arguments) {
			queryArgs := args.Get(2).([]any)
			assert.Equal(t, "instagram", queryArgs[3])
		}).
		Return(&mockRow{scanFn: scanDailyUsage(after)})

	got, err := repo.Increment(context.Background(), "user_1", day, types.UsageAPICall, 1, "instagram")
	require.NoError(t, err)
	assert.Equal(t, 1, got.PlatformUsage["instagram"])
	db.AssertExpectations(t)
}

func TestDailyUsageRepo_Range_OrdersAscending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	day1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{"user_1", day1, 100, 2, 0, 1, 0, types.PlatformUsage{"twitter": 80}, day1, day1},
		{"user_1", day2, 200, 4, 1, 0, 3, types.PlatformUsage(nil), day2, day2},
	})

	db.On("Query", mock.Anything, sqlContaining("ORDER BY date ASC"), mock.Anything).
		Return(rows, nil)

	result, err := repo.Range(context.Background(), "user_1", day1, day2)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, 100, result[0].APICalls)
	assert.Equal(t, 80, result[0].PlatformUsage["twitter"])
	assert.Equal(t, 200, result[1].APICalls)
	assert.Equal(t, 3, result[1].AIGenerations)
	db.AssertExpectations(t)
}

func TestDailyUsageRepo_Range_EmptyIsNotAnError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDailyUsageRepo(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	result, err := repo.Range(context.Background(), "user_1", time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, result)
}
