// Package media downscales uploaded images before they reach object storage.
// Decoding stays in-process (stdlib plus x/image for webp); the actual
// rescale shells out to ffmpeg so no decoded frame is ever held in Go memory.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const DefaultMaxDimension = 1024

type Upload struct {
	Reader      io.Reader
	Size        int64
	FileName    string
	ContentType string
}

type Result struct {
	Bytes       []byte
	ContentType string
	Resized     bool
}

type Processor interface {
	Process(ctx context.Context, upload Upload, maxDimension int) (*Result, error)
}

type FFMPEGProcessor struct {
	path         string
	maxDimension int
}

func NewFFMPEGProcessor(binaryPath string, maxDimension int) *FFMPEGProcessor {
	path := strings.TrimSpace(binaryPath)
	if path == "" {
		path = "ffmpeg"
	}
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &FFMPEGProcessor{path: path, maxDimension: maxDimension}
}

func (p *FFMPEGProcessor) Process(ctx context.Context, upload Upload, maxDimension int) (*Result, error) {
	if upload.Reader == nil {
		return nil, fmt.Errorf("media: empty reader")
	}
	data, err := io.ReadAll(upload.Reader)
	if err != nil {
		return nil, fmt.Errorf("media: read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("media: empty image data")
	}

	contentType := normalizeContentType(upload.ContentType)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode dimensions: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("media: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	targetMax := maxDimension
	if targetMax <= 0 {
		targetMax = p.maxDimension
	}
	if cfg.Width <= targetMax && cfg.Height <= targetMax {
		return &Result{Bytes: data, ContentType: contentType, Resized: false}, nil
	}

	width, height := scaleToFit(cfg.Width, cfg.Height, targetMax)
	processed, err := p.transcode(ctx, data, contentType, width, height)
	if err != nil {
		return nil, err
	}
	return &Result{Bytes: processed, ContentType: contentType, Resized: true}, nil
}

func scaleToFit(width, height, maxDim int) (int, int) {
	scale := func(side, other int) int {
		scaled := int(math.Round(float64(side) * float64(maxDim) / float64(other)))
		if scaled < 2 {
			return 2
		}
		return scaled
	}
	if width >= height {
		return maxDim, scale(height, width)
	}
	return scale(width, height), maxDim
}

func (p *FFMPEGProcessor) transcode(ctx context.Context, data []byte, contentType string, width, height int) ([]byte, error) {
	codec, codecArgs, err := codecFor(contentType)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos", width, height),
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", codec,
	}
	args = append(args, codecArgs...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, p.path, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg: %v: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg: produced empty output")
	}
	return stdout.Bytes(), nil
}

func codecFor(contentType string) (string, []string, error) {
	switch contentType {
	case "image/jpeg":
		return "mjpeg", []string{"-q:v", "3"}, nil
	case "image/png":
		return "png", []string{"-compression_level", "4"}, nil
	case "image/webp":
		return "libwebp", []string{"-quality", "85"}, nil
	default:
		return "", nil, fmt.Errorf("media: unsupported content type %s", contentType)
	}
}

func normalizeContentType(value string) string {
	ct := strings.ToLower(strings.TrimSpace(value))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}
