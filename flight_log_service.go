package main

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/wailsapp/wails/v3/pkg/application"
)

// FlightLogService records telemetry snapshots into sqlite sessions and
// exports them for review.
type FlightLogService struct {
	db         *sql.DB
	controller *DroneService
	app        *application.App

	mu        sync.Mutex
	recording bool
	sessionID string
	stopCh    chan struct{}
	startTime time.Time
	dataCount int
}

func NewFlightLogService(db *sql.DB, controller *DroneService) *FlightLogService {
	return &FlightLogService{
		db:         db,
		controller: controller,
	}
}

func (f *FlightLogService) setApp(app *application.App) {
	f.app = app
}

// StartRecording opens a new session row and begins sampling once a second.
func (f *FlightLogService) StartRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.controller.Snapshot()
	if snap.State != StateConnected {
		return fmt.Errorf("no drone connected")
	}
	if f.recording {
		return fmt.Errorf("already recording")
	}

	id := uuid.NewString()
	if _, err := f.db.Exec(`INSERT INTO flight_sessions (id, link_name) VALUES (?, ?)`, id, snap.LinkName); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	f.recording = true
	f.sessionID = id
	f.stopCh = make(chan struct{})
	f.startTime = time.Now()
	f.dataCount = 0

	go f.recordLoop(id, f.stopCh)

	slog.Info("flight recording started", "session", id)
	if f.app != nil {
		f.app.Event.Emit("recording-state", true)
	}
	return nil
}

// StopRecording closes the current session.
func (f *FlightLogService) StopRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.recording {
		return
	}

	f.recording = false
	close(f.stopCh)

	if _, err := f.db.Exec(`UPDATE flight_sessions SET ended_at = CURRENT_TIMESTAMP WHERE id = ?`, f.sessionID); err != nil {
		slog.Error("failed to close session", "session", f.sessionID, "error", err)
	}

	slog.Info("flight recording stopped", "session", f.sessionID, "samples", f.dataCount)
	if f.app != nil {
		f.app.Event.Emit("recording-state", false)
	}
}

func (f *FlightLogService) IsRecording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *FlightLogService) GetRecordingInfo() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	duration := 0.0
	if f.recording {
		duration = time.Since(f.startTime).Seconds()
	}

	return map[string]interface{}{
		"recording": f.recording,
		"sessionId": f.sessionID,
		"duration":  duration,
		"dataCount": f.dataCount,
	}
}

func (f *FlightLogService) recordLoop(sessionID string, stopCh chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			snap := f.controller.Snapshot()
			if snap.State != StateConnected {
				continue
			}

			_, err := f.db.Exec(
				`INSERT INTO telemetry_log (session_id, battery, height, flight_time, flying) VALUES (?, ?, ?, ?, ?)`,
				sessionID, snap.Battery, snap.Height, snap.FlightTime, snap.Flying,
			)
			if err != nil {
				slog.Error("failed to insert telemetry sample", "error", err)
				continue
			}

			f.mu.Lock()
			f.dataCount++
			f.mu.Unlock()
		}
	}
}

// SessionInfo is one row in the panel's session list.
type SessionInfo struct {
	ID        string `json:"id"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt"`
	LinkName  string `json:"linkName"`
	Samples   int    `json:"samples"`
	Age       string `json:"age"` // humanized, e.g. "2 hours ago"
}

// ListSessions returns recorded sessions, newest first.
func (f *FlightLogService) ListSessions() ([]SessionInfo, error) {
	rows, err := f.db.Query(`
		SELECT s.id, s.started_at, COALESCE(s.ended_at, ''), COALESCE(s.link_name, ''), COUNT(t.id)
		FROM flight_sessions s
		LEFT JOIN telemetry_log t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.StartedAt, &info.EndedAt, &info.LinkName, &info.Samples); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if t, err := time.Parse("2006-01-02 15:04:05", info.StartedAt); err == nil {
			info.Age = humanize.Time(t)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// ExportSessionCSV writes one session's samples to filePath.
func (f *FlightLogService) ExportSessionCSV(sessionID, filePath string) error {
	rows, err := f.db.Query(
		`SELECT timestamp, battery, height, flight_time, flying FROM telemetry_log WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	w.Write([]string{"timestamp", "battery", "height", "flight_time", "flying"})

	for rows.Next() {
		var ts string
		var battery, height, flightTime, flying int
		if err := rows.Scan(&ts, &battery, &height, &flightTime, &flying); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		w.Write([]string{
			ts,
			strconv.Itoa(battery),
			strconv.Itoa(height),
			strconv.Itoa(flightTime),
			strconv.Itoa(flying),
		})
	}
	return rows.Err()
}

// ExportAndReveal writes the CSV then opens it with the system viewer.
func (f *FlightLogService) ExportAndReveal(sessionID, filePath string) error {
	if err := f.ExportSessionCSV(sessionID, filePath); err != nil {
		return err
	}
	return browser.OpenFile(filePath)
}

// PurgeSessions drops all recorded sessions and samples.
func (f *FlightLogService) PurgeSessions() error {
	if _, err := f.db.Exec(`DELETE FROM telemetry_log`); err != nil {
		return fmt.Errorf("purge telemetry: %w", err)
	}
	if _, err := f.db.Exec(`DELETE FROM flight_sessions`); err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}

	f.mu.Lock()
	f.dataCount = 0
	f.mu.Unlock()
	return nil
}
