package main

import (
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "flight_log.db"))
	require.NoError(t, err)
	require.NoError(t, createTables(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestFlightLog(t *testing.T) (*FlightLogService, *DroneService) {
	db := newTestDB(t)
	d := newTestDroneService(&MockDroneLink{battery: 87, height: 120, flightTime: 42})
	d.RefreshTelemetry()
	return NewFlightLogService(db, d), d
}

func TestRecordingLifecycle(t *testing.T) {
	f, _ := newTestFlightLog(t)

	require.NoError(t, f.StartRecording())
	assert.True(t, f.IsRecording())

	err := f.StartRecording()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already recording")

	// The sampler ticks once a second.
	require.Eventually(t, func() bool {
		return f.GetRecordingInfo()["dataCount"].(int) >= 1
	}, 3*time.Second, 100*time.Millisecond, "should collect at least one sample")

	f.StopRecording()
	assert.False(t, f.IsRecording())

	sessions, err := f.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "MockDrone", sessions[0].LinkName)
	assert.GreaterOrEqual(t, sessions[0].Samples, 1)
	assert.NotEmpty(t, sessions[0].EndedAt, "stopping must close the session")
}

func TestStartRecordingRequiresConnection(t *testing.T) {
	db := newTestDB(t)
	d := NewDroneService(&SettingsService{})
	f := NewFlightLogService(db, d)

	err := f.StartRecording()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no drone connected")
}

func TestStopRecordingWhenIdle(t *testing.T) {
	f, _ := newTestFlightLog(t)

	f.StopRecording() // no-op, must not panic

	assert.False(t, f.IsRecording())
}

func TestGetRecordingInfo(t *testing.T) {
	f, _ := newTestFlightLog(t)

	info := f.GetRecordingInfo()
	assert.Equal(t, false, info["recording"])
	assert.Equal(t, 0.0, info["duration"])

	require.NoError(t, f.StartRecording())
	defer f.StopRecording()

	info = f.GetRecordingInfo()
	assert.Equal(t, true, info["recording"])
	assert.NotEmpty(t, info["sessionId"])
}

func TestListSessionsEmpty(t *testing.T) {
	f, _ := newTestFlightLog(t)

	sessions, err := f.ListSessions()

	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestExportSessionCSV(t *testing.T) {
	f, _ := newTestFlightLog(t)

	_, err := f.db.Exec(`INSERT INTO flight_sessions (id, link_name) VALUES ('s1', 'Tello')`)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.db.Exec(
			`INSERT INTO telemetry_log (session_id, battery, height, flight_time, flying) VALUES ('s1', ?, ?, ?, 1)`,
			90-i, 100+i, i,
		)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "session.csv")
	require.NoError(t, f.ExportSessionCSV("s1", path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus three samples")
	assert.Equal(t, []string{"timestamp", "battery", "height", "flight_time", "flying"}, records[0])
	assert.Equal(t, "90", records[1][1])
	assert.Equal(t, "102", records[3][2])
}

func TestExportSessionCSVEmptySession(t *testing.T) {
	f, _ := newTestFlightLog(t)

	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, f.ExportSessionCSV("missing", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp", "header is written even with no samples")
}

func TestPurgeSessions(t *testing.T) {
	f, _ := newTestFlightLog(t)

	_, err := f.db.Exec(`INSERT INTO flight_sessions (id, link_name) VALUES ('s1', 'Tello')`)
	require.NoError(t, err)
	_, err = f.db.Exec(`INSERT INTO telemetry_log (session_id, battery, height, flight_time, flying) VALUES ('s1', 90, 100, 5, 1)`)
	require.NoError(t, err)

	require.NoError(t, f.PurgeSessions())

	sessions, err := f.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
