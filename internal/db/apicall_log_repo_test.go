package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulsemetrics/internal/types"
)

func logRow(id string, createdAt time.Time) []any {
	return []any{
		id, "user_1", "/v1/analytics/posts", "GET", 200, 42,
		"203.0.113.9", "pulse-cli/1.4", "req_" + id, createdAt,
	}
}

func TestAPICallLogRepo_Insert_AssignsID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPICallLogRepo(db)

	createdAt := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	db.On("QueryRow", mock.Anything, sqlContaining("INSERT INTO api_call_logs"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*time.Time) = createdAt
			return nil
		}})

	entry := &types.APICallLog{
		UserID:     "user_1",
		Endpoint:   "/v1/analytics/posts",
		Method:     "GET",
		StatusCode: 200,
	}
	err := repo.Insert(context.Background(), entry)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, createdAt, entry.CreatedAt)
	db.AssertExpectations(t)
}

func TestAPICallLogRepo_List_TrimsOverfetchAndFlagsMore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPICallLogRepo(db)

	now := time.Now().UTC()
	data := make([][]any, 3)
	for i := range data {
		data[i] = logRow(string(rune('a'+i)), now.Add(-time.Duration(i)*time.Minute))
	}

	db.On("Query", mock.Anything, sqlContaining("ORDER BY created_at DESC"), mock.Anything).
		Run(func(args mock.Arguments) {
			queryArgs := args.Get(2).([]any)
			// One row beyond the page is requested to detect more pages.
			assert.Equal(t, 3, queryArgs[1])
			assert.Equal(t, 0, queryArgs[2])
		}).
		Return(newMockRows(data), nil)

	result, page, err := repo.List(context.Background(), "user_1", APICallLogListParams{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PerPage)
	db.AssertExpectations(t)
}

func TestAPICallLogRepo_List_LastPage(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPICallLogRepo(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{logRow("a", time.Now())}), nil)

	result, page, err := repo.List(context.Background(), "user_1", APICallLogListParams{Page: 2, PerPage: 25})
	require.NoError(t, err)
	assert.Len(t, result, 1)
	assert.False(t, page.HasMore)
}

func TestAPICallLogRepo_List_EndpointFilterEscapesLike(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPICallLogRepo(db)

	db.On("Query", mock.Anything, sqlContaining("endpoint ILIKE $2"), mock.Anything).
		Run(func(args mock.Arguments) {
			queryArgs := args.Get(2).([]any)
			assert.Equal(t, `%/v1/reports\_daily%`, queryArgs[1])
		}).
		Return(newMockRows(nil), nil)

	_, _, err := repo.List(context.Background(), "user_1", APICallLogListParams{
		Page: 1, PerPage: 10, Endpoint: "/v1/reports_daily",
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAPICallLogRepo_List_DefaultsPagination(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAPICallLogRepo(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	_, page, err := repo.List(context.Background(), "user_1", APICallLogListParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PerPage)
}
