package device

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capture format: 16 kHz, 16-bit mono PCM. Playback duration is estimated
// from the payload size at this rate.
const (
	sampleRate     = 16000
	bytesPerSample = 2
	wavHeaderSize  = 44

	minPlayDuration = 500 * time.Millisecond
	maxPlayDuration = 60 * time.Second
)

// FileAudio is the audio collaborator for machines without the recorder
// hardware attached. Capture produces a placeholder clip in the audio
// directory; playback is simulated by the estimated clip duration.
type FileAudio struct {
	log *slog.Logger
	dir string

	mu        sync.Mutex
	capture   string // path of the in-progress capture, empty when idle
	captureAt time.Time
}

func NewFileAudio(dir string) *FileAudio {
	return &FileAudio{
		log: slog.Default().With("component", "audio"),
		dir: dir,
	}
}

func (a *FileAudio) StartCapture() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capture = filepath.Join(a.dir, fmt.Sprintf("rec-%s.wav", uuid.NewString()))
	a.captureAt = time.Now()
	a.log.Info("capture started", "file", a.capture)
}

// StopCapture finalizes the in-progress clip. Without real hardware the
// clip body is synthesized silence sized to the elapsed capture time, so
// the rest of the pipeline handles realistic payloads.
func (a *FileAudio) StopCapture() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capture == "" {
		return "", false
	}
	path := a.capture
	elapsed := time.Since(a.captureAt)
	a.capture = ""

	samples := int(elapsed.Seconds() * sampleRate)
	if samples <= 0 {
		a.log.Info("capture too short, discarding")
		return "", false
	}
	if err := os.WriteFile(path, make([]byte, wavHeaderSize+samples*bytesPerSample), 0o644); err != nil {
		a.log.Error("capture write failed", "error", err)
		return "", false
	}
	a.log.Info("capture stopped", "file", path, "duration", elapsed.Round(time.Millisecond))
	return path, true
}

// Play returns the estimated duration of the clip; the coordinator's
// playback timer does the rest.
func (a *FileAudio) Play(ref string) time.Duration {
	info, err := os.Stat(ref)
	if err != nil {
		a.log.Warn("play failed", "file", ref, "error", err)
		return minPlayDuration
	}
	return estimateDuration(info.Size())
}

func (a *FileAudio) StopPlayback() {}

func estimateDuration(size int64) time.Duration {
	payload := size - wavHeaderSize
	if payload < 0 {
		payload = 0
	}
	d := time.Duration(payload) * time.Second / (sampleRate * bytesPerSample)
	if d < minPlayDuration {
		return minPlayDuration
	}
	if d > maxPlayDuration {
		return maxPlayDuration
	}
	return d
}
