package data

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// Session terminal statuses. A session stays "running" until exactly one of
// the terminal values is written by FinishSession.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SessionParams is the parameter snapshot persisted with the session row.
type SessionParams struct {
	FPS           int
	ConfWater     float64
	IoUWater      float64
	ConfRisk      float64
	IoURisk       float64
	SendMaskEvery int
	ImgszWater    int
	ImgszRisk     int
}

type DetectSession struct {
	ID         int64
	CameraID   string
	CameraName string
	Location   string
	SourceType string
	SourceURL  string
	Params     SessionParams
	Status     string
	RecordPath *string
	StartedAt  time.Time
	EndedAt    *time.Time
}

type SessionModel struct {
	DB DBTX
}

// Create inserts a detect_session row and returns the generated id.
// source_url stores the original client URL, not the resolved path.
func (m SessionModel) Create(ctx context.Context, s *DetectSession) (int64, error) {
	query := `
		INSERT INTO detect_session (
			camera_id, camera_name, location, source_type, source_url,
			fps, conf_water, iou_water, conf_risk, iou_risk,
			send_mask_every, imgsz_water, imgsz_risk, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`

	var id int64
	err := m.DB.QueryRowContext(ctx, query,
		s.CameraID, s.CameraName, s.Location, s.SourceType, s.SourceURL,
		s.Params.FPS, s.Params.ConfWater, s.Params.IoUWater,
		s.Params.ConfRisk, s.Params.IoURisk,
		s.Params.SendMaskEvery, s.Params.ImgszWater, s.Params.ImgszRisk,
		StatusRunning,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Finish writes the terminal status and end timestamp.
func (m SessionModel) Finish(ctx context.Context, id int64, status string) error {
	query := `
		UPDATE detect_session
		SET status = $1, ended_at = (NOW() AT TIME ZONE 'UTC')
		WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateRecordPath stores the recorded file path relative to the record
// root's parent, so a static file server rooted one level up can serve it.
func (m SessionModel) UpdateRecordPath(ctx context.Context, id int64, relPath string) error {
	query := `UPDATE detect_session SET record_path = $1 WHERE id = $2`
	res, err := m.DB.ExecContext(ctx, query, relPath, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type SessionFilter struct {
	CameraID string
	Start    *time.Time
	End      *time.Time
	Limit    int
}

// List returns sessions for history queries, newest first.
// Not called by the streaming core.
func (m SessionModel) List(ctx context.Context, f SessionFilter) ([]*DetectSession, error) {
	query := `
		SELECT id, camera_id, camera_name, location, source_type, source_url,
		       fps, conf_water, iou_water, conf_risk, iou_risk,
		       send_mask_every, imgsz_water, imgsz_risk,
		       status, record_path, started_at, ended_at
		FROM detect_session
		WHERE ($1 = '' OR camera_id = $1)
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		  AND ($3::timestamptz IS NULL OR started_at <= $3)
		ORDER BY started_at DESC
		LIMIT $4`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := m.DB.QueryContext(ctx, query, f.CameraID, f.Start, f.End, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DetectSession
	for rows.Next() {
		var s DetectSession
		var recordPath sql.NullString
		var endedAt sql.NullTime
		err := rows.Scan(
			&s.ID, &s.CameraID, &s.CameraName, &s.Location, &s.SourceType, &s.SourceURL,
			&s.Params.FPS, &s.Params.ConfWater, &s.Params.IoUWater,
			&s.Params.ConfRisk, &s.Params.IoURisk,
			&s.Params.SendMaskEvery, &s.Params.ImgszWater, &s.Params.ImgszRisk,
			&s.Status, &recordPath, &s.StartedAt, &endedAt,
		)
		if err != nil {
			return nil, err
		}
		if recordPath.Valid {
			s.RecordPath = &recordPath.String
		}
		if endedAt.Valid {
			s.EndedAt = &endedAt.Time
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Delete removes a session and its ticks. Returns ErrRecordNotFound when the
// session id does not exist. Ticks are deleted first to satisfy the FK.
func (m SessionModel) Delete(ctx context.Context, id int64) error {
	if _, err := m.DB.ExecContext(ctx, `DELETE FROM detect_tick WHERE session_id = $1`, id); err != nil {
		return err
	}
	res, err := m.DB.ExecContext(ctx, `DELETE FROM detect_session WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
