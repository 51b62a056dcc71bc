package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-fms/internal/data"
)

func testSession() *data.DetectSession {
	return &data.DetectSession{
		CameraID:   "cam-1",
		CameraName: "River bridge",
		Location:   "Sector 4",
		SourceType: "hls",
		SourceURL:  "http://cam.local/live/stream.m3u8",
		Params: data.SessionParams{
			FPS: 10, ConfWater: 0.25, IoUWater: 0.45,
			ConfRisk: 0.25, IoURisk: 0.45,
			SendMaskEvery: 1, ImgszWater: 640, ImgszRisk: 640,
		},
	}
}

func TestSessionCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.SessionModel{DB: db}
	s := testSession()

	mock.ExpectQuery("INSERT INTO detect_session").
		WithArgs(
			s.CameraID, s.CameraName, s.Location, s.SourceType, s.SourceURL,
			s.Params.FPS, s.Params.ConfWater, s.Params.IoUWater,
			s.Params.ConfRisk, s.Params.IoURisk,
			s.Params.SendMaskEvery, s.Params.ImgszWater, s.Params.ImgszRisk,
			data.StatusRunning,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := m.Create(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionCreate_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO detect_session").WillReturnError(sql.ErrConnDone)

	_, err = data.SessionModel{DB: db}.Create(context.Background(), testSession())
	assert.Error(t, err)
}

func TestSessionFinish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE detect_session").
		WithArgs(data.StatusDone, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = data.SessionModel{DB: db}.Finish(context.Background(), 42, data.StatusDone)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionFinish_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE detect_session").
		WithArgs(data.StatusStopped, int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = data.SessionModel{DB: db}.Finish(context.Background(), 99, data.StatusStopped)
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}

func TestSessionUpdateRecordPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE detect_session SET record_path").
		WithArgs("detect/cam-1/20260314_150926.mp4", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = data.SessionModel{DB: db}.UpdateRecordPath(context.Background(), 42, "detect/cam-1/20260314_150926.mp4")
	assert.NoError(t, err)
}

func TestSessionList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	ended := started.Add(10 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "camera_id", "camera_name", "location", "source_type", "source_url",
		"fps", "conf_water", "iou_water", "conf_risk", "iou_risk",
		"send_mask_every", "imgsz_water", "imgsz_risk",
		"status", "record_path", "started_at", "ended_at",
	}).AddRow(
		int64(2), "cam-1", "River bridge", "Sector 4", "hls", "http://x/s.m3u8",
		10, 0.25, 0.45, 0.25, 0.45, 1, 640, 640,
		data.StatusDone, "detect/cam-1/a.mp4", started, ended,
	).AddRow(
		int64(1), "cam-1", "River bridge", "Sector 4", "video", "clip.mp4",
		10, 0.25, 0.45, 0.25, 0.45, 1, 640, 640,
		data.StatusStopped, nil, started.Add(-time.Hour), nil,
	)

	mock.ExpectQuery("SELECT (.+) FROM detect_session").
		WithArgs("cam-1", nil, nil, 100).
		WillReturnRows(rows)

	out, err := data.SessionModel{DB: db}.List(context.Background(), data.SessionFilter{CameraID: "cam-1"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int64(2), out[0].ID)
	require.NotNil(t, out[0].RecordPath)
	assert.Equal(t, "detect/cam-1/a.mp4", *out[0].RecordPath)
	require.NotNil(t, out[0].EndedAt)

	assert.Nil(t, out[1].RecordPath)
	assert.Nil(t, out[1].EndedAt)
}

func TestSessionDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// ticks go first to satisfy the FK
	mock.ExpectExec("DELETE FROM detect_tick").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM detect_session").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = data.SessionModel{DB: db}.Delete(context.Background(), 7)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionDelete_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM detect_tick").
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM detect_session").
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = data.SessionModel{DB: db}.Delete(context.Background(), 8)
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}
