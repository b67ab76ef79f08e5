package hls

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// KeyMethod is the METHOD attribute of an EXT-X-KEY tag.
type KeyMethod string

const (
	MethodNone      KeyMethod = "NONE"
	MethodAES       KeyMethod = "AES"
	MethodAES128    KeyMethod = "AES-128"
	MethodAES128CTR KeyMethod = "AES-128-CTR"
	MethodSampleAES KeyMethod = "SAMPLE-AES"
)

// RenditionType is the TYPE attribute of an EXT-X-MEDIA tag.
type RenditionType string

const (
	RenditionAudio     RenditionType = "AUDIO"
	RenditionVideo     RenditionType = "VIDEO"
	RenditionSubtitles RenditionType = "SUBTITLES"
	RenditionCaptions  RenditionType = "CLOSED-CAPTIONS"
)

// Playlist is a parsed .m3u8 document. It is either a master playlist
// (IsVariant, Variants and Media set) or a media playlist (Segments set).
type Playlist struct {
	IsVariant      bool
	Version        int
	TargetDuration float64
	MediaSequence  int64
	PlaylistType   string
	EndList        bool
	IFramesOnly    bool
	// Key is nil when the playlist is not encrypted.
	Key      *Key
	Segments []Segment
	Variants []VariantStream
	Media    []Rendition
	// Warnings lists lines that were skipped while parsing.
	Warnings []ParseWarning
	BaseURI  string
}

// VariantStream is one EXT-X-STREAM-INF entry of a master playlist.
type VariantStream struct {
	URI              string
	Bandwidth        int64
	AverageBandwidth int64
	Resolution       Resolution
	Codecs           string
	FrameRate        float64
	Audio            string
	Subtitles        string
}

// Resolution is a WIDTHxHEIGHT pair. The zero value means unknown.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Rendition is an EXT-X-MEDIA alternate rendition.
type Rendition struct {
	Type       RenditionType
	GroupID    string
	Language   string
	Name       string
	URI        string
	Default    bool
	AutoSelect bool
	Forced     bool
}

// Key describes how the segments of a media playlist are encrypted.
type Key struct {
	Method    KeyMethod
	URI       string
	IV        []byte
	KeyFormat string
}

// ByteRange is an EXT-X-BYTERANGE sub-range of a segment resource.
type ByteRange struct {
	Length int64
	Offset int64
}

// Segment is one fetchable unit of a media playlist.
type Segment struct {
	// Index is the 0-based position in the playlist and defines write order.
	Index int
	// Sequence is the media sequence number (EXT-X-MEDIA-SEQUENCE + Index).
	Sequence      int64
	URI           string
	Duration      float64
	Title         string
	ByteRange     *ByteRange
	Discontinuity bool
}

// ParseWarning records a line that could not be used.
type ParseWarning struct {
	Line int
	Tag  string
	Msg  string
}

func (w ParseWarning) String() string {
	if w.Tag == "" {
		return fmt.Sprintf("line %d: %s", w.Line, w.Msg)
	}
	return fmt.Sprintf("line %d: %s: %s", w.Line, w.Tag, w.Msg)
}

// ParseError is returned when a playlist has no usable segments or variants.
type ParseError struct {
	Msg      string
	Warnings []ParseWarning
}

func (e *ParseError) Error() string {
	if len(e.Warnings) == 0 {
		return "hls: " + e.Msg
	}
	return fmt.Sprintf("hls: %s (%d lines skipped, first: %s)", e.Msg, len(e.Warnings), e.Warnings[0])
}

type segmentInfo struct {
	line     int
	duration float64
	title    string
}

type parser struct {
	p    *Playlist
	base *url.URL

	inf           *segmentInfo
	stream        *VariantStream
	streamLine    int
	discontinuity bool
	byteRange     *ByteRange
	prevRange     *ByteRange
	prevRangeURI  string
}

// Parse reads playlist text line by line. Relative URIs are resolved against
// baseURI, which is normally the URL the playlist was fetched from.
//
// Malformed tag values do not stop the scan: the offending line is skipped and
// recorded in Playlist.Warnings. An error is returned only when neither
// segments nor variants survive.
func Parse(raw, baseURI string) (*Playlist, error) {
	ps := &parser{p: &Playlist{BaseURI: baseURI}}
	if strings.TrimSpace(baseURI) != "" {
		if u, err := url.Parse(strings.TrimSpace(baseURI)); err == nil {
			ps.base = u
		} else {
			ps.warn(0, "", "invalid base uri: "+err.Error())
		}
	}

	sawHeader := false
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			ps.uri(lineNo, line)
			continue
		}
		tag, value, _ := strings.Cut(line, ":")
		if tag == "#EXTM3U" {
			sawHeader = true
			continue
		}
		ps.tag(lineNo, tag, strings.TrimSpace(value))
	}

	if ps.inf != nil {
		ps.warn(ps.inf.line, "#EXTINF", "missing segment uri")
	}
	if ps.stream != nil {
		ps.warn(ps.streamLine, "#EXT-X-STREAM-INF", "missing variant uri")
	}
	if !sawHeader {
		ps.warn(1, "", "missing #EXTM3U header")
	}

	p := ps.p
	for i := range p.Segments {
		p.Segments[i].Sequence = p.MediaSequence + int64(i)
	}
	p.IsVariant = len(p.Variants) > 0
	if len(p.Segments) == 0 && len(p.Variants) == 0 {
		return nil, &ParseError{Msg: "playlist has no usable segments or variants", Warnings: p.Warnings}
	}
	return p, nil
}

func (ps *parser) warn(line int, tag, msg string) {
	ps.p.Warnings = append(ps.p.Warnings, ParseWarning{Line: line, Tag: tag, Msg: msg})
}

func (ps *parser) tag(line int, tag, value string) {
	p := ps.p
	switch tag {
	case "#EXT-X-VERSION":
		n, err := strconv.Atoi(value)
		if err != nil {
			ps.warn(line, tag, "invalid integer "+strconv.Quote(value))
			return
		}
		p.Version = n
	case "#EXT-X-TARGETDURATION":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			ps.warn(line, tag, "invalid number "+strconv.Quote(value))
			return
		}
		p.TargetDuration = f
	case "#EXT-X-MEDIA-SEQUENCE":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			ps.warn(line, tag, "invalid integer "+strconv.Quote(value))
			return
		}
		p.MediaSequence = n
	case "#EXT-X-PLAYLIST-TYPE":
		p.PlaylistType = strings.ToUpper(value)
	case "#EXT-X-ENDLIST":
		p.EndList = true
	case "#EXT-X-I-FRAMES-ONLY":
		p.IFramesOnly = true
	case "#EXT-X-DISCONTINUITY":
		ps.discontinuity = true
	case "#EXT-X-KEY":
		ps.key(line, value)
	case "#EXTINF":
		if ps.inf != nil {
			ps.warn(ps.inf.line, tag, "missing segment uri")
		}
		durStr, title, _ := strings.Cut(value, ",")
		info := &segmentInfo{line: line, title: strings.TrimSpace(title)}
		d, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
		if err != nil || d < 0 {
			ps.warn(line, tag, "invalid duration "+strconv.Quote(durStr))
		} else {
			info.duration = d
		}
		ps.inf = info
	case "#EXT-X-BYTERANGE":
		br, err := parseByteRange(value)
		if err != nil {
			ps.warn(line, tag, err.Error())
			return
		}
		ps.byteRange = br
	case "#EXT-X-STREAM-INF":
		if ps.stream != nil {
			ps.warn(ps.streamLine, tag, "missing variant uri")
		}
		ps.stream = ps.variant(line, value)
		ps.streamLine = line
	case "#EXT-X-MEDIA":
		ps.rendition(line, value)
	}
}

func (ps *parser) uri(line int, raw string) {
	p := ps.p
	if ps.stream != nil {
		v := *ps.stream
		v.URI = ps.resolve(raw)
		p.Variants = append(p.Variants, v)
		ps.stream = nil
		return
	}

	seg := Segment{Index: len(p.Segments), URI: ps.resolve(raw), Discontinuity: ps.discontinuity}
	if ps.inf != nil {
		seg.Duration = ps.inf.duration
		seg.Title = ps.inf.title
	} else {
		ps.warn(line, "", "segment uri without #EXTINF")
	}
	if ps.byteRange != nil {
		br := *ps.byteRange
		if br.Offset < 0 {
			br.Offset = 0
			if ps.prevRange != nil && ps.prevRangeURI == seg.URI {
				br.Offset = ps.prevRange.Offset + ps.prevRange.Length
			}
		}
		seg.ByteRange = &br
		ps.prevRange = &br
		ps.prevRangeURI = seg.URI
	}
	p.Segments = append(p.Segments, seg)
	ps.inf = nil
	ps.byteRange = nil
	ps.discontinuity = false
}

func (ps *parser) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() || ps.base == nil {
		return ref
	}
	return ps.base.ResolveReference(u).String()
}

// key keeps the first encryption key of the playlist. A later key that
// differs is recorded as a warning and not applied.
func (ps *parser) key(line int, value string) {
	attrs := parseAttributes(value)
	method := KeyMethod(strings.ToUpper(attrs["METHOD"]))
	if method == "" {
		ps.warn(line, "#EXT-X-KEY", "missing METHOD")
		return
	}
	if method == MethodNone {
		if ps.p.Key != nil {
			ps.warn(line, "#EXT-X-KEY", "key rotation to NONE is not supported, keeping first key")
		}
		return
	}
	uri := attrs["URI"]
	if uri == "" {
		ps.warn(line, "#EXT-X-KEY", "missing URI for method "+string(method))
		return
	}
	k := &Key{Method: method, URI: ps.resolve(uri), KeyFormat: attrs["KEYFORMAT"]}
	if raw, ok := attrs["IV"]; ok && raw != "" {
		iv, err := ParseIV(raw)
		if err != nil {
			ps.warn(line, "#EXT-X-KEY", err.Error())
		} else {
			k.IV = iv
		}
	}
	if ps.p.Key == nil {
		ps.p.Key = k
		return
	}
	if !sameKey(ps.p.Key, k) {
		ps.warn(line, "#EXT-X-KEY", "key rotation is not supported, keeping first key")
	}
}

func sameKey(a, b *Key) bool {
	return a.Method == b.Method && a.URI == b.URI && string(a.IV) == string(b.IV)
}

func (ps *parser) variant(line int, value string) *VariantStream {
	attrs := parseAttributes(value)
	v := &VariantStream{
		Codecs:    attrs["CODECS"],
		Audio:     attrs["AUDIO"],
		Subtitles: attrs["SUBTITLES"],
	}
	if s, ok := attrs["BANDWIDTH"]; ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			v.Bandwidth = n
		} else {
			ps.warn(line, "#EXT-X-STREAM-INF", "invalid BANDWIDTH "+strconv.Quote(s))
		}
	}
	if s, ok := attrs["AVERAGE-BANDWIDTH"]; ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			v.AverageBandwidth = n
		}
	}
	if s, ok := attrs["RESOLUTION"]; ok {
		if r, err := ParseResolution(s); err == nil {
			v.Resolution = r
		} else {
			ps.warn(line, "#EXT-X-STREAM-INF", err.Error())
		}
	}
	if s, ok := attrs["FRAME-RATE"]; ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			v.FrameRate = f
		}
	}
	return v
}

func (ps *parser) rendition(line int, value string) {
	attrs := parseAttributes(value)
	typ := RenditionType(strings.ToUpper(attrs["TYPE"]))
	if typ == "" {
		ps.warn(line, "#EXT-X-MEDIA", "missing TYPE")
		return
	}
	r := Rendition{
		Type:       typ,
		GroupID:    attrs["GROUP-ID"],
		Language:   attrs["LANGUAGE"],
		Name:       attrs["NAME"],
		Default:    strings.EqualFold(attrs["DEFAULT"], "YES"),
		AutoSelect: strings.EqualFold(attrs["AUTOSELECT"], "YES"),
		Forced:     strings.EqualFold(attrs["FORCED"], "YES"),
	}
	if u := attrs["URI"]; u != "" {
		r.URI = ps.resolve(u)
	}
	ps.p.Media = append(ps.p.Media, r)
}

// ParseIV decodes an IV attribute. Values with a 0x prefix are hex; anything
// else is taken as raw bytes.
func ParseIV(raw string) ([]byte, error) {
	if len(raw) > 2 && (raw[:2] == "0x" || raw[:2] == "0X") {
		h := raw[2:]
		if len(h)%2 == 1 {
			h = "0" + h
		}
		iv, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invalid IV %q: %w", raw, err)
		}
		return iv, nil
	}
	return []byte(raw), nil
}

// SequenceIV returns the IV implied for a segment when its key has none: the
// media sequence number as a 16-byte big-endian integer.
func SequenceIV(seq int64) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], uint64(seq))
	return iv
}

// ParseResolution parses a WIDTHxHEIGHT attribute value.
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid RESOLUTION %q", s)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return Resolution{}, fmt.Errorf("invalid RESOLUTION %q", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

func parseByteRange(value string) (*ByteRange, error) {
	n, o, hasOffset := strings.Cut(value, "@")
	length, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	if err != nil || length <= 0 {
		return nil, fmt.Errorf("invalid length %q", n)
	}
	br := &ByteRange{Length: length, Offset: -1}
	if hasOffset {
		off, err := strconv.ParseInt(strings.TrimSpace(o), 10, 64)
		if err != nil || off < 0 {
			return nil, fmt.Errorf("invalid offset %q", o)
		}
		br.Offset = off
	}
	return br, nil
}

// parseAttributes splits an attribute list on commas outside quoted strings.
// Keys are upper-cased and surrounding quotes are removed from values.
func parseAttributes(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range splitAttributes(raw) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		out[k] = v
	}
	return out
}

func splitAttributes(raw string) []string {
	parts := make([]string, 0, 8)
	start := 0
	inQuote := false
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if inQuote {
				continue
			}
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	if start < len(raw) {
		parts = append(parts, raw[start:])
	}
	return parts
}
