package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// generic playlist names that say nothing about the content.
var genericPlaylistNames = map[string]bool{
	"index":    true,
	"master":   true,
	"playlist": true,
	"main":     true,
	"manifest": true,
	"stream":   true,
	"video":    true,
}

// BuildOutputFileName returns "<name>.<ext>" for a playlist URL.
//
// The name is the last path element without extension, skipping generic
// names such as "master" or "index" in favour of the parent directory. It
// falls back to "video" when nothing usable remains.
func BuildOutputFileName(rawURL, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "mkv"
	}
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := len(parts) - 1; i >= 0; i-- {
			p, err := url.PathUnescape(parts[i])
			if err != nil {
				p = parts[i]
			}
			p = strings.TrimSuffix(p, path.Ext(p))
			if p == "" || genericPlaylistNames[strings.ToLower(p)] {
				continue
			}
			name = p
			break
		}
	}
	if name == "" {
		name = "video"
	}
	return SanitizeFileNamePart(name) + "." + ext
}

// OutputFileNames returns one output name per link. Links whose names
// collide (case-insensitively) get a short hash of their URL appended, so
// distinct playlists never share an output file.
func OutputFileNames(links []string, ext string) []string {
	names := make([]string, len(links))
	owners := make(map[string]map[string]bool, len(links))
	for i, link := range links {
		names[i] = BuildOutputFileName(link, ext)
		key := strings.ToLower(names[i])
		if owners[key] == nil {
			owners[key] = make(map[string]bool)
		}
		owners[key][link] = true
	}
	for i, link := range links {
		if len(owners[strings.ToLower(names[i])]) < 2 {
			continue
		}
		sum := sha256.Sum256([]byte(link))
		e := path.Ext(names[i])
		names[i] = strings.TrimSuffix(names[i], e) + "-" + hex.EncodeToString(sum[:])[:8] + e
	}
	return names
}

// SanitizeFileNamePart removes characters invalid on common filesystems,
// collapses repeated separators/whitespace, and returns "media" for empty
// results.
func SanitizeFileNamePart(value string) string {
	replacer := strings.NewReplacer(
		"\\", "_",
		"/", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	s := replacer.Replace(value)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " .")
	if s == "" {
		return "media"
	}
	return s
}

// TrackLabel names a rendition directory from its language, falling back to
// its name and then to "track<n>".
func TrackLabel(language, name string, n int) string {
	for _, v := range []string{language, name} {
		if v = strings.TrimSpace(v); v != "" {
			return strings.ReplaceAll(SanitizeFileNamePart(v), " ", "_")
		}
	}
	return "track" + strconv.Itoa(n)
}
