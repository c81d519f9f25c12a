package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pulsemetrics/internal/types"
)

// apiCallLogColumns is the select list shared by api_call_logs reads.
const apiCallLogColumns = `id, user_id, endpoint, method, status_code, response_time_ms,
	       ip_address, user_agent, request_id, created_at`

// APICallLogListParams filters the paginated log listing.
type APICallLogListParams struct {
	Page     int
	PerPage  int
	Endpoint string // substring match on the endpoint path; empty matches all
}

// APICallLogRepo provides data access for the api_call_logs table.
// The table is append-only: rows are inserted once per completed request and
// never mutated afterwards.
type APICallLogRepo struct {
	db DBTX
}

// NewAPICallLogRepo creates a new APICallLogRepo backed by the given
// database connection (pool or transaction).
func NewAPICallLogRepo(db DBTX) *APICallLogRepo {
	return &APICallLogRepo{db: db}
}

// Insert appends one log row. The caller fills every field except ID and
// CreatedAt, which are assigned here and written back to the entry.
func (r *APICallLogRepo) Insert(ctx context.Context, entry *types.APICallLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO api_call_logs
		   (id, user_id, endpoint, method, status_code, response_time_ms,
		    ip_address, user_agent, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		entry.ID, entry.UserID, entry.Endpoint, entry.Method,
		entry.StatusCode, entry.ResponseTimeMS,
		entry.IPAddress, entry.UserAgent, entry.RequestID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert api call log", err)
	}
	return nil
}

// List returns the user's log rows newest-first, paginated. When
// params.Endpoint is non-empty only rows whose endpoint contains the
// substring (case-insensitive) are returned. Fetches one row beyond the page
// size to detect whether more pages exist.
func (r *APICallLogRepo) List(ctx context.Context, userID string, params APICallLogListParams) ([]types.APICallLog, types.PageInfo, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	perPage := params.PerPage
	if perPage < 1 {
		perPage = 50
	}

	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if params.Endpoint != "" {
		conditions = append(conditions, fmt.Sprintf("endpoint ILIKE $%d", argIdx))
		args = append(args, "%"+escapeLike(params.Endpoint)+"%")
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM api_call_logs
		 WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`,
		apiCallLogColumns,
		strings.Join(conditions, " AND "),
		argIdx, argIdx+1,
	)
	args = append(args, perPage+1, (page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list api call logs", err)
	}
	defer rows.Close()

	var results []types.APICallLog
	for rows.Next() {
		var l types.APICallLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Endpoint, &l.Method,
			&l.StatusCode, &l.ResponseTimeMS,
			&l.IPAddress, &l.UserAgent, &l.RequestID, &l.CreatedAt,
		); err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan api call log row", err)
		}
		results = append(results, l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating api call log rows", err)
	}

	pageInfo := types.PageInfo{Page: page, PerPage: perPage}
	if len(results) > perPage {
		pageInfo.HasMore = true
		results = results[:perPage]
	}
	return results, pageInfo, nil
}

// escapeLike neutralizes LIKE metacharacters so the user-supplied substring
// matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
