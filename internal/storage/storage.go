// Package storage persists the artifacts of a pipeline run: the encoded WAV
// recording and the transcript text.
//
// Both files of one run share a [Stamp] so that they can be matched up by
// name:
//
//	recordings/recording_20260102_150405_1a2b3c4d.wav
//	transcripts/transcript_20260102_150405_1a2b3c4d.txt
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Stamp identifies one pipeline run in file names and reports.
type Stamp struct {
	Time time.Time
	// Short is the first 8 hex characters of a random UUID. It keeps runs
	// started in the same second apart.
	Short string
}

// NewStamp returns a stamp for a run started at t.
func NewStamp(t time.Time) Stamp {
	return Stamp{Time: t, Short: uuid.NewString()[:8]}
}

// String returns the stamp as "YYYYmmdd_HHMMSS_<id8>".
func (s Stamp) String() string {
	return s.Time.Format("20060102_150405") + "_" + s.Short
}

// Store saves pipeline artifacts and returns the path they were written to.
type Store interface {
	SaveRecording(ctx context.Context, stamp Stamp, wav []byte) (string, error)
	SaveTranscript(ctx context.Context, stamp Stamp, text string) (string, error)
}

// FileStore writes artifacts to two local directories. Directories are
// created on first use.
type FileStore struct {
	recordingsDir  string
	transcriptsDir string
}

// NewFileStore returns a store writing recordings and transcripts to the
// given directories.
func NewFileStore(recordingsDir, transcriptsDir string) *FileStore {
	return &FileStore{recordingsDir: recordingsDir, transcriptsDir: transcriptsDir}
}

// RecordingPath returns the path SaveRecording would use for stamp.
func (s *FileStore) RecordingPath(stamp Stamp) string {
	return filepath.Join(s.recordingsDir, "recording_"+stamp.String()+".wav")
}

// TranscriptPath returns the path SaveTranscript would use for stamp.
func (s *FileStore) TranscriptPath(stamp Stamp) string {
	return filepath.Join(s.transcriptsDir, "transcript_"+stamp.String()+".txt")
}

// SaveRecording implements [Store].
func (s *FileStore) SaveRecording(ctx context.Context, stamp Stamp, wav []byte) (string, error) {
	path := s.RecordingPath(stamp)
	if err := writeFile(ctx, path, wav); err != nil {
		return "", fmt.Errorf("storage: save recording: %w", err)
	}
	return path, nil
}

// SaveTranscript implements [Store]. Text is written as UTF-8.
func (s *FileStore) SaveTranscript(ctx context.Context, stamp Stamp, text string) (string, error) {
	path := s.TranscriptPath(stamp)
	if err := writeFile(ctx, path, []byte(text)); err != nil {
		return "", fmt.Errorf("storage: save transcript: %w", err)
	}
	return path, nil
}

// Check verifies that both directories exist (creating them if needed) and
// accept new files. It backs the readiness check.
func (s *FileStore) Check(_ context.Context) error {
	for _, dir := range []string{s.recordingsDir, s.transcriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: create %s: %w", dir, err)
		}
		f, err := os.CreateTemp(dir, ".writable-*")
		if err != nil {
			return fmt.Errorf("storage: %s not writable: %w", dir, err)
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
	}
	return nil
}

// writeFile writes data to a temporary file next to path and renames it into
// place, so readers never observe a partial artifact.
func writeFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
