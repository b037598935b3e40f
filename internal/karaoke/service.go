package karaoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lyrebird/internal/transcription"
)

// Fixed tag values for the karaoke mp3 when the upload carried no artist.
const (
	fallbackTagArtist = "AI Music Separator"
	tagAlbum          = "Karaoke Collection"
)

// LRCArtifact returns the lyric file name for a job.
func LRCArtifact(jobID string) string {
	return jobID + "_karaoke.lrc"
}

// AudioArtifact returns the tagged instrumental file name for a job.
func AudioArtifact(jobID string) string {
	return jobID + "_karaoke.mp3"
}

// SyncArtifact returns the sync manifest file name for a job.
func SyncArtifact(jobID string) string {
	return jobID + "_sync.json"
}

// Option configures the karaoke service.
type Option func(*Service)

// WithFFmpegBinary overrides the default ffmpeg binary name.
func WithFFmpegBinary(binary string) Option {
	return func(s *Service) {
		if binary != "" {
			s.ffmpegBinary = binary
		}
	}
}

// Service assembles karaoke packages. ffmpeg only re-muxes the instrumental
// to attach tags; everything else is written directly.
type Service struct {
	ffmpegBinary  string
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a karaoke service using defaults.
func NewService(opts ...Option) *Service {
	svc := &Service{ffmpegBinary: "ffmpeg"}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Request carries everything Generate needs to assemble one karaoke package.
type Request struct {
	JobID            string
	Title            string
	Artist           string
	InstrumentalPath string
	// Segments provide word-timed lines; Text is the plain fallback used
	// when no segment carries usable timing.
	Segments        []transcription.Segment
	Text            string
	DurationSeconds float64
	OutputDir       string
}

// Result lists the files one Generate call produced.
type Result struct {
	LRCPath   string
	AudioPath string
	SyncPath  string
	Lines     []Line
}

// Generate writes the LRC file, the tagged instrumental mp3 and the sync
// manifest into the output directory.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	var result Result

	if strings.TrimSpace(req.JobID) == "" {
		return result, errors.New("karaoke: job id required")
	}
	if req.InstrumentalPath == "" {
		return result, errors.New("karaoke: instrumental path required")
	}
	if _, err := os.Stat(req.InstrumentalPath); err != nil {
		return result, fmt.Errorf("karaoke: instrumental: %w", err)
	}
	if req.OutputDir == "" {
		req.OutputDir = filepath.Dir(req.InstrumentalPath)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return result, fmt.Errorf("karaoke: ensure output dir: %w", err)
	}

	lines := LinesFromSegments(req.Segments, req.DurationSeconds)
	if len(lines) == 0 {
		lines = LinesFromText(req.Text, req.DurationSeconds)
	}

	lrcName := LRCArtifact(req.JobID)
	result.LRCPath = filepath.Join(req.OutputDir, lrcName)
	doc := BuildLRC(req.Title, req.Artist, req.DurationSeconds, lines)
	if err := os.WriteFile(result.LRCPath, []byte(doc), 0o644); err != nil {
		return result, fmt.Errorf("karaoke: write lrc: %w", err)
	}

	audioName := AudioArtifact(req.JobID)
	result.AudioPath = filepath.Join(req.OutputDir, audioName)
	if err := s.embed(ctx, req, lines, result.AudioPath); err != nil {
		return result, err
	}
	if _, err := os.Stat(result.AudioPath); err != nil {
		return result, fmt.Errorf("karaoke: audio %s was not produced: %w", audioName, err)
	}

	syncName := SyncArtifact(req.JobID)
	result.SyncPath = filepath.Join(req.OutputDir, syncName)
	if err := writeSync(result.SyncPath, req, lines, lrcName, audioName); err != nil {
		return result, err
	}

	result.Lines = lines
	return result, nil
}

// embed copies the instrumental stream untouched and attaches the karaoke
// tags, lyrics included, as ID3v2.3.
func (s *Service) embed(ctx context.Context, req Request, lines []Line, dest string) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = req.JobID
	}
	artist := strings.TrimSpace(req.Artist)
	if artist == "" {
		artist = fallbackTagArtist
	}
	texts := make([]string, len(lines))
	for i, line := range lines {
		texts[i] = line.Text
	}

	args := []string{
		"-y", "-loglevel", "error",
		"-i", req.InstrumentalPath,
		"-c", "copy",
		"-id3v2_version", "3",
		"-metadata", "title=Karaoke - " + title,
		"-metadata", "artist=" + artist,
		"-metadata", "album=" + tagAlbum,
		"-metadata", "lyrics=" + strings.Join(texts, "\n"),
		dest,
	}
	if err := s.run(ctx, s.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("karaoke: embed metadata: %w", err)
	}
	return nil
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// SyncedLine is one entry of the sync manifest.
type SyncedLine struct {
	Timestamp float64 `json:"timestamp"`
	LRCFormat string  `json:"lrc_format"`
	Text      string  `json:"text"`
}

// SyncDocument is the machine-readable manifest written beside the LRC file.
type SyncDocument struct {
	FileID       string       `json:"file_id"`
	Artist       string       `json:"artist"`
	SongName     string       `json:"song_name"`
	Duration     float64      `json:"duration"`
	TotalLines   int          `json:"total_lines"`
	SyncedLyrics []SyncedLine `json:"synced_lyrics"`
	LRCFile      string       `json:"lrc_file"`
	AudioFile    string       `json:"audio_file"`
	GeneratedAt  time.Time    `json:"generated_at"`
}

func writeSync(path string, req Request, lines []Line, lrcName, audioName string) error {
	doc := SyncDocument{
		FileID:       req.JobID,
		Artist:       req.Artist,
		SongName:     req.Title,
		Duration:     req.DurationSeconds,
		TotalLines:   len(lines),
		SyncedLyrics: make([]SyncedLine, len(lines)),
		LRCFile:      lrcName,
		AudioFile:    audioName,
		GeneratedAt:  time.Now().UTC(),
	}
	for i, line := range lines {
		doc.SyncedLyrics[i] = SyncedLine{
			Timestamp: line.Start,
			LRCFormat: Timestamp(line.Start),
			Text:      line.Text,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("karaoke: encode sync manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("karaoke: write sync manifest: %w", err)
	}
	return nil
}
