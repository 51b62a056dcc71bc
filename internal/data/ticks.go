package data

import (
	"context"
	"database/sql"
)

type DetectTick struct {
	ID           int64
	SessionID    int64
	TsMs         int64
	VideoSec     float64
	WaterPercent int
	RiskLevel    int
	MaskH        int
	MaskW        int
	// WaterPolys and RiskBoxes hold JSON text serialised at the boundary:
	// outer rings only for polygons, [x1,y1,x2,y2,level] rows for boxes.
	WaterPolys *string
	RiskBoxes  *string
}

type TickModel struct {
	DB DBTX
}

func (m TickModel) Insert(ctx context.Context, t *DetectTick) error {
	query := `
		INSERT INTO detect_tick (
			session_id, ts_ms, video_sec,
			water_percent, risk_level,
			mask_h, mask_w, water_polys, risk_boxes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := m.DB.ExecContext(ctx, query,
		t.SessionID, t.TsMs, t.VideoSec,
		t.WaterPercent, t.RiskLevel,
		t.MaskH, t.MaskW, t.WaterPolys, t.RiskBoxes,
	)
	return err
}

// ListBySession returns ticks ordered for playback. limit <= 0 means no limit.
func (m TickModel) ListBySession(ctx context.Context, sessionID int64, limit int) ([]*DetectTick, error) {
	query := `
		SELECT id, session_id, ts_ms, video_sec,
		       water_percent, risk_level,
		       mask_h, mask_w, water_polys, risk_boxes
		FROM detect_tick
		WHERE session_id = $1
		ORDER BY video_sec ASC, ts_ms ASC`

	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DetectTick
	for rows.Next() {
		var t DetectTick
		var polys, boxes sql.NullString
		err := rows.Scan(
			&t.ID, &t.SessionID, &t.TsMs, &t.VideoSec,
			&t.WaterPercent, &t.RiskLevel,
			&t.MaskH, &t.MaskW, &polys, &boxes,
		)
		if err != nil {
			return nil, err
		}
		if polys.Valid {
			t.WaterPolys = &polys.String
		}
		if boxes.Valid {
			t.RiskBoxes = &boxes.String
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
