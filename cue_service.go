package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CueService serves the notification sound pack to the frontend. Users drop
// wav/ogg/mp3 files named after a cue ("ready.wav", "queue-cleared.ogg")
// into the sounds directory; the frontend falls back to its bundled cue
// when no file matches.
type CueService struct {
	soundDir string
	mu       sync.Mutex
}

type AudioData struct {
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
}

func NewCueService() *CueService {
	soundDir := configPath("sounds")
	os.MkdirAll(soundDir, 0o755)

	return &CueService{soundDir: soundDir}
}

// ListCues names the cues with a custom sound installed.
func (c *CueService) ListCues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.soundDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return out
}

// GetCueData returns one cue's sound as base64 for the webview's audio
// element.
func (c *CueService) GetCueData(cue string) (*AudioData, error) {
	// Sanitize the cue name to prevent path traversal
	if strings.Contains(cue, "/") || strings.Contains(cue, "\\") || strings.Contains(cue, "..") {
		return nil, fmt.Errorf("invalid cue name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matches, _ := filepath.Glob(filepath.Join(c.soundDir, cue+".*"))
	if len(matches) == 0 {
		return nil, fmt.Errorf("no sound installed for cue %q", cue)
	}
	path := matches[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sound file: %w", err)
	}

	contentType := "audio/mpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		contentType = "audio/wav"
	case ".ogg":
		contentType = "audio/ogg"
	}

	return &AudioData{
		Data:        base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	}, nil
}

// InstallCue copies a sound file into the pack under the cue's name,
// replacing any previous sound for that cue.
func (c *CueService) InstallCue(cue, sourcePath string) error {
	if strings.Contains(cue, "/") || strings.Contains(cue, "\\") || strings.Contains(cue, "..") {
		return fmt.Errorf("invalid cue name")
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	switch ext {
	case ".wav", ".ogg", ".mp3":
	default:
		return fmt.Errorf("unsupported sound format %q", ext)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeCueLocked(cue)

	path := filepath.Join(c.soundDir, cue+ext)
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return fmt.Errorf("write file: %w", err)
	}

	slog.Info("cue sound installed", "cue", cue, "path", path)
	return nil
}

// RemoveCue deletes a cue's custom sound, restoring the bundled default.
func (c *CueService) RemoveCue(cue string) {
	if strings.Contains(cue, "/") || strings.Contains(cue, "\\") || strings.Contains(cue, "..") {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeCueLocked(cue)
}

func (c *CueService) removeCueLocked(cue string) {
	matches, _ := filepath.Glob(filepath.Join(c.soundDir, cue+".*"))
	for _, m := range matches {
		os.Remove(m)
	}
}
