package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/stemyke/assetkit/pkg/assetkit"
)

// ffprobe output, reduced to the fields merged into asset metadata.
type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	BitRate   string `json:"bit_rate"`
	Duration  string `json:"duration"`
}

// probeVideo materializes the payload in a temp file (probing tools need
// seekable file input) and merges the highest-resolution video stream's
// codec metadata into meta.
func (p *Processor) probeVideo(ctx context.Context, payload []byte, meta *assetkit.AssetMeta) error {
	path, cleanup, err := p.materialize(payload)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := runCommand(ctx, p.ffprobePath,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path)
	if err != nil {
		return err
	}

	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return fmt.Errorf("parse ffprobe output: %w", err)
	}

	var best *probeStream
	for i := range result.Streams {
		s := &result.Streams[i]
		if s.CodecType != "video" {
			continue
		}
		if best == nil || s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	if best == nil {
		return fmt.Errorf("no video stream found")
	}

	meta.Width = best.Width
	meta.Height = best.Height
	meta.SetExtra("codec", best.CodecName)
	if rate := numeric(best.BitRate, result.Format.BitRate); rate > 0 {
		meta.SetExtra("bitrate", rate)
	}
	if duration := numeric(best.Duration, result.Format.Duration); duration > 0 {
		meta.SetExtra("duration", duration)
	}
	return nil
}

// videoThumbnail extracts a single frame near the first timestamp as a
// PNG payload.
func (p *Processor) videoThumbnail(ctx context.Context, payload []byte, meta *assetkit.AssetMeta) ([]byte, error) {
	path, cleanup, err := p.materialize(payload)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return runCommand(ctx, p.ffmpegPath,
		"-v", "error",
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1")
}

// materialize writes the payload to a temp file and returns its path
// plus a cleanup func.
func (p *Processor) materialize(payload []byte) (string, func(), error) {
	f, err := os.CreateTemp(p.tempDir, "assetkit-video-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(name)
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return name, func() { os.Remove(name) }, nil
}

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", bin, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func numeric(values ...string) float64 {
	for _, v := range values {
		if v == "" {
			continue
		}
		if num, err := strconv.ParseFloat(v, 64); err == nil {
			return num
		}
	}
	return 0
}
