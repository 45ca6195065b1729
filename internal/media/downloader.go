// Package media acquires local artifacts for motion events: keyshot images
// over HTTP, video clips and extracted audio via ffmpeg. All operations are
// best effort; a failure yields an error the caller is expected to log and
// continue past.
package media

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
	"github.com/jpaulin/freebird-go/internal/logging"
)

const downloadTimeout = 30 * time.Second

var logger *slog.Logger

func init() {
	logger = logging.ForService("media")
}

// Downloader fetches and derives per-event media artifacts under the
// configured media directory, one subdirectory per trace identifier.
type Downloader struct {
	baseDir    string
	ffmpegPath string
	httpClient *http.Client
}

// NewDownloader creates a Downloader rooted at the settings' media dir.
func NewDownloader(settings *conf.Settings) *Downloader {
	return &Downloader{
		baseDir:    settings.MediaDir(),
		ffmpegPath: "ffmpeg",
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
}

// eventDir returns (and creates) the artifact directory for one event.
func (d *Downloader) eventDir(traceID string) (string, error) {
	dir := filepath.Join(d.baseDir, traceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Newf("creating media directory: %w", err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("trace_id", traceID).
			Build()
	}
	return dir, nil
}

// FetchImage downloads the keyshot still for an event. Returns the existing
// path without refetching when the artifact is already on disk.
func (d *Downloader) FetchImage(ctx context.Context, url, traceID string) (string, error) {
	if url == "" {
		return "", nil
	}
	dir, err := d.eventDir(traceID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "keyshot.jpg")
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", mediaFetchError(err, traceID)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", mediaFetchError(err, traceID)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("image download returned status %d", resp.StatusCode).
			Component("media").
			Category(errors.CategoryMediaFetch).
			Context("trace_id", traceID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", mediaFetchError(err, traceID)
	}
	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(dest)
		return "", mediaFetchError(errors.Join(err, closeErr), traceID)
	}

	logger.Info("downloaded keyshot", "trace_id", traceID, "bytes", written)
	return dest, nil
}

// FetchVideo downloads the event's HLS video stream into an mp4 via ffmpeg
// stream copy. Best effort; a partial file is removed on failure.
func (d *Downloader) FetchVideo(ctx context.Context, m3u8URL, traceID string) (string, error) {
	if m3u8URL == "" {
		return "", nil
	}
	dir, err := d.eventDir(traceID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "video.mp4")
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-y",
		"-i", m3u8URL,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		dest,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dest)
		return "", errors.Newf("ffmpeg video download failed: %w", err).
			Component("media").
			Category(errors.CategoryMediaFetch).
			Context("trace_id", traceID).
			Context("ffmpeg_output", tail(string(output), 500)).
			Build()
	}

	logger.Info("downloaded video", "trace_id", traceID)
	return dest, nil
}

// ExtractAudio derives a mono 48 kHz wav from the event's video for the
// acoustic classifier.
func (d *Downloader) ExtractAudio(ctx context.Context, videoPath, traceID string) (string, error) {
	if videoPath == "" {
		return "", nil
	}
	dir, err := d.eventDir(traceID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "audio.wav")
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "1",
		dest,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(dest)
		return "", errors.Newf("audio extraction failed: %w", err).
			Component("media").
			Category(errors.CategoryMediaFetch).
			Context("trace_id", traceID).
			Context("ffmpeg_output", tail(string(output), 500)).
			Build()
	}

	logger.Info("extracted audio", "trace_id", traceID)
	return dest, nil
}

func mediaFetchError(err error, traceID string) error {
	return errors.New(err).
		Component("media").
		Category(errors.CategoryMediaFetch).
		Context("trace_id", traceID).
		Build()
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
