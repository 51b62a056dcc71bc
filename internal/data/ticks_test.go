package data_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-fms/internal/data"
)

func TestTickInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	polys := `[[[0.1,0.1],[0.5,0.1],[0.5,0.5]]]`
	boxes := `[[0.1,0.1,0.3,0.3,4]]`

	mock.ExpectExec("INSERT INTO detect_tick").
		WithArgs(int64(42), int64(1500), 1.5, 37, 4, 360, 640, &polys, &boxes).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = data.TickModel{DB: db}.Insert(context.Background(), &data.DetectTick{
		SessionID:    42,
		TsMs:         1500,
		VideoSec:     1.5,
		WaterPercent: 37,
		RiskLevel:    4,
		MaskH:        360,
		MaskW:        640,
		WaterPolys:   &polys,
		RiskBoxes:    &boxes,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickInsert_NullPayloads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO detect_tick").
		WithArgs(int64(42), int64(0), 0.0, 0, 0, 48, 64, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = data.TickModel{DB: db}.Insert(context.Background(), &data.DetectTick{
		SessionID: 42,
		MaskH:     48,
		MaskW:     64,
	})
	assert.NoError(t, err)
}

func TestTickListBySession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "ts_ms", "video_sec",
		"water_percent", "risk_level", "mask_h", "mask_w",
		"water_polys", "risk_boxes",
	}).
		AddRow(int64(1), int64(42), int64(100), 0.1, 10, 1, 360, 640, `[]`, nil).
		AddRow(int64(2), int64(42), int64(200), 0.2, 12, 2, 360, 640, nil, `[]`)

	mock.ExpectQuery("SELECT (.+) FROM detect_tick").
		WithArgs(int64(42)).
		WillReturnRows(rows)

	out, err := data.TickModel{DB: db}.ListBySession(context.Background(), 42, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int64(100), out[0].TsMs)
	require.NotNil(t, out[0].WaterPolys)
	assert.Nil(t, out[0].RiskBoxes)
	assert.Nil(t, out[1].WaterPolys)
}

func TestTickListBySession_Limited(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM detect_tick").
		WithArgs(int64(42), 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "ts_ms", "video_sec",
			"water_percent", "risk_level", "mask_h", "mask_w",
			"water_polys", "risk_boxes",
		}))

	out, err := data.TickModel{DB: db}.ListBySession(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
