// Package mux runs an external ffmpeg process to combine finished track
// files into one container.
package mux

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"hlsdl/internal/session"
)

// maxOutput bounds how much ffmpeg stderr is kept for a MuxingError.
const maxOutput = 8 << 10

// FFmpeg implements session.Muxer by running ffmpeg with stream copy.
type FFmpeg struct {
	Path string
	Log  *slog.Logger
}

// New returns an FFmpeg muxer. An empty path means "ffmpeg" from PATH.
func New(path string, log *slog.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, Log: log}
}

func (f *FFmpeg) Mux(ctx context.Context, in session.MuxInput, outPath string) error {
	if in.Video.Path == "" {
		return &session.MuxingError{Err: errors.New("no video track")}
	}
	args := buildArgs(in, outPath)
	if f.Log != nil {
		f.Log.Debug("running ffmpeg", slog.String("bin", f.Path), slog.String("args", strings.Join(args, " ")))
	}

	cmd := exec.CommandContext(ctx, f.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &session.MuxingError{Output: tail(stderr.String(), maxOutput), Err: err}
	}
	return nil
}

func buildArgs(in session.MuxInput, outPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	inputs := []string{in.Video.Path}
	for _, t := range in.Audio {
		inputs = append(inputs, t.Path)
	}
	for _, t := range in.Subtitles {
		inputs = append(inputs, t.Path)
	}
	for _, p := range inputs {
		args = append(args, "-i", p)
	}

	// Without separate audio renditions the video track carries the audio.
	if len(in.Audio) == 0 {
		args = append(args, "-map", "0")
	} else {
		args = append(args, "-map", "0:v")
	}
	n := 1
	for range in.Audio {
		args = append(args, "-map", strconv.Itoa(n)+":a")
		n++
	}
	for range in.Subtitles {
		args = append(args, "-map", strconv.Itoa(n)+":s")
		n++
	}

	args = append(args, "-c", "copy")
	if len(in.Subtitles) > 0 {
		args = append(args, "-c:s", subtitleCodec(outPath))
	}

	for i, t := range in.Audio {
		args = append(args, streamMetadata("a", i, t)...)
	}
	for i, t := range in.Subtitles {
		args = append(args, streamMetadata("s", i, t)...)
	}
	return append(args, outPath)
}

func streamMetadata(kind string, idx int, t session.MuxTrack) []string {
	var out []string
	opt := "-metadata:s:" + kind + ":" + strconv.Itoa(idx)
	if t.Language != "" {
		out = append(out, opt, "language="+t.Language)
	}
	if t.Name != "" {
		out = append(out, opt, "title="+t.Name)
	}
	return out
}

func subtitleCodec(outPath string) string {
	switch strings.ToLower(filepath.Ext(outPath)) {
	case ".mp4", ".m4v", ".mov":
		return "mov_text"
	default:
		return "webvtt"
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
