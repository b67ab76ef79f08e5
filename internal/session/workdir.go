package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

const (
	playlistCacheName = "playlist.m3u8"
	trackIndexName    = "index.m3u8"
)

// WorkDirFor returns the working directory of a playlist below root. The
// name is derived from the playlist URL (or text) so reruns find the files
// of an earlier attempt.
func WorkDirFor(root, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(root, hex.EncodeToString(sum[:])[:16])
}

func videoTrackPath(workDir string) string {
	return filepath.Join(workDir, "tmp", "video", "0.ts")
}

func audioTrackPath(workDir, label string) string {
	return filepath.Join(workDir, "tmp", "audio", label, "0.ts")
}

func subtitleTrackPath(workDir, label string) string {
	return filepath.Join(workDir, "tmp", "subtitle", label+".vtt")
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
