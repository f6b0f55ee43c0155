package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/xiaoshi/backend/internal/config"
)

var (
	ErrEmptyAudio = errors.New("audio payload is empty")
	// ErrTranscode 表示 ffmpeg 无法处理上传的音频。
	ErrTranscode = errors.New("audio transcode failed")
)

// Transcoder converts uploaded audio into 16 kHz mono 16-bit PCM WAV.
type Transcoder interface {
	ToWAV(ctx context.Context, data []byte, format string) ([]byte, error)
}

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// FFmpeg 通过外部 ffmpeg 进程完成转码。临时文件在每次调用结束时删除。
type FFmpeg struct {
	binary  string
	tempDir string
	timeout time.Duration
}

// NewFFmpeg builds a transcoder from the audio configuration.
func NewFFmpeg(cfg config.AudioConfig) *FFmpeg {
	binary := strings.TrimSpace(cfg.FFmpegPath)
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := cfg.TranscodeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFmpeg{
		binary:  binary,
		tempDir: cfg.TempDir,
		timeout: timeout,
	}
}

// Available reports whether the ffmpeg binary can be found.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary)
	return err == nil
}

// ToWAV writes data to a temporary file, runs ffmpeg on it and returns the
// converted WAV bytes.
func (f *FFmpeg) ToWAV(ctx context.Context, data []byte, format string) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	workDir, err := os.MkdirTemp(f.tempDir, "xiaoshi-audio-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("[audio] failed to remove temp dir %s: %v", workDir, err)
		}
	}()

	base := uuid.NewString()
	inputPath := filepath.Join(workDir, base+"."+normalizeExt(format))
	outputPath := filepath.Join(workDir, base+".wav")

	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-f", "wav",
		"-sample_fmt", "s16",
		"-ar", "16000",
		"-ac", "1",
		outputPath,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrTranscode, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrTranscode, err, tail(stderr.String(), 512))
	}

	wav, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrTranscode, err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrTranscode)
	}

	log.Printf("[audio] transcoded %d bytes (%s) to %d bytes wav in %s", len(data), format, len(wav), time.Since(start))
	return wav, nil
}

// normalizeExt 清理客户端传入的扩展名，非法值回退为 bin，由 ffmpeg 自行探测格式。
func normalizeExt(format string) string {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if !extPattern.MatchString(ext) {
		return "bin"
	}
	return ext
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
