package hls

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",LANGUAGE="en",NAME="English",DEFAULT=YES,AUTOSELECT=YES,URI="audio/en/index.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",LANGUAGE="it",NAME="Italiano",DEFAULT=NO,URI="audio/it/index.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="en-US",NAME="English CC",DEFAULT=NO,URI="subs/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2",AUDIO="aac",SUBTITLES="subs"
video/720/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2",AUDIO="aac",SUBTITLES="subs"
video/1080/index.m3u8
`

const encryptedMedia = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:10
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x000102030405060708090a0b0c0d0e0f
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,intro
seg1.ts
#EXT-X-DISCONTINUITY
#EXTINF:4.5,
https://cdn.example.com/seg2.ts
#EXT-X-ENDLIST
`

func TestParseMasterPlaylist(t *testing.T) {
	p, err := Parse(masterPlaylist, "https://example.com/show/master.m3u8")
	require.NoError(t, err)

	assert.True(t, p.IsVariant)
	assert.Equal(t, 4, p.Version)
	require.Len(t, p.Variants, 2)
	assert.Equal(t, "https://example.com/show/video/720/index.m3u8", p.Variants[0].URI)
	assert.Equal(t, int64(1280000), p.Variants[0].Bandwidth)
	assert.Equal(t, Resolution{Width: 1280, Height: 720}, p.Variants[0].Resolution)
	assert.Equal(t, "avc1.4d401f,mp4a.40.2", p.Variants[0].Codecs)
	assert.Equal(t, "aac", p.Variants[1].Audio)
	assert.Equal(t, "subs", p.Variants[1].Subtitles)

	require.Len(t, p.Media, 3)
	assert.Equal(t, RenditionAudio, p.Media[0].Type)
	assert.Equal(t, "en", p.Media[0].Language)
	assert.True(t, p.Media[0].Default)
	assert.True(t, p.Media[0].AutoSelect)
	assert.False(t, p.Media[1].Default)
	assert.Equal(t, "https://example.com/show/audio/it/index.m3u8", p.Media[1].URI)
	assert.Equal(t, RenditionSubtitles, p.Media[2].Type)
	assert.Empty(t, p.Warnings)
}

func TestParseMediaPlaylist(t *testing.T) {
	p, err := Parse(encryptedMedia, "https://example.com/show/video/index.m3u8")
	require.NoError(t, err)

	assert.False(t, p.IsVariant)
	assert.Equal(t, 6.0, p.TargetDuration)
	assert.Equal(t, int64(10), p.MediaSequence)
	assert.Equal(t, "VOD", p.PlaylistType)
	assert.True(t, p.EndList)

	require.NotNil(t, p.Key)
	assert.Equal(t, MethodAES128, p.Key.Method)
	assert.Equal(t, "https://example.com/show/video/key.bin", p.Key.URI)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, p.Key.IV)

	require.Len(t, p.Segments, 3)
	for i, seg := range p.Segments {
		assert.Equal(t, i, seg.Index)
		assert.Equal(t, int64(10+i), seg.Sequence)
	}
	assert.Equal(t, "https://example.com/show/video/seg0.ts", p.Segments[0].URI)
	assert.Equal(t, "intro", p.Segments[1].Title)
	assert.Equal(t, "https://cdn.example.com/seg2.ts", p.Segments[2].URI)
	assert.Equal(t, 4.5, p.Segments[2].Duration)
	assert.False(t, p.Segments[1].Discontinuity)
	assert.True(t, p.Segments[2].Discontinuity)
}

func TestParseKeyNoneLeavesKeyNil(t *testing.T) {
	raw := "#EXTM3U\n#EXT-X-KEY:METHOD=NONE\n#EXTINF:2,\na.ts\n"
	p, err := Parse(raw, "")
	require.NoError(t, err)
	assert.Nil(t, p.Key)
	assert.Equal(t, "a.ts", p.Segments[0].URI)
}

func TestParseIVWithoutPrefixIsRaw(t *testing.T) {
	raw := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\",IV=abcdefghijklmnop\n#EXTINF:2,\na.ts\n"
	p, err := Parse(raw, "")
	require.NoError(t, err)
	require.NotNil(t, p.Key)
	assert.Equal(t, []byte("abcdefghijklmnop"), p.Key.IV)
}

func TestParseKeyRotationKeepsFirstKey(t *testing.T) {
	raw := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="k1"
#EXTINF:2,
a.ts
#EXT-X-KEY:METHOD=AES-128,URI="k2"
#EXTINF:2,
b.ts
`
	p, err := Parse(raw, "https://h/x/p.m3u8")
	require.NoError(t, err)
	require.NotNil(t, p.Key)
	assert.Equal(t, "https://h/x/k1", p.Key.URI)
	require.Len(t, p.Warnings, 1)
	assert.Equal(t, 5, p.Warnings[0].Line)
	assert.Equal(t, "#EXT-X-KEY", p.Warnings[0].Tag)
	assert.Contains(t, p.Warnings[0].Msg, "rotation")
}

func TestParseMalformedLinesAreSkipped(t *testing.T) {
	raw := `#EXTM3U
#EXT-X-TARGETDURATION:abc
#EXT-X-KEY:METHOD=AES-128,URI="k",IV=0xZZ
#EXTINF:x,
a.ts
#EXTINF:3,
#EXTINF:4,
b.ts
#EXT-X-BYTERANGE:nope
#EXTINF:5,
c.ts
#EXT-X-STREAM-INF:BANDWIDTH=1
`
	p, err := Parse(raw, "")
	require.NoError(t, err)
	require.Len(t, p.Segments, 3)
	assert.Equal(t, 0.0, p.Segments[0].Duration)
	assert.Equal(t, 4.0, p.Segments[1].Duration)
	assert.Nil(t, p.Segments[2].ByteRange)
	require.NotNil(t, p.Key)
	assert.Nil(t, p.Key.IV)
	assert.False(t, p.IsVariant)

	tags := make([]string, 0, len(p.Warnings))
	for _, w := range p.Warnings {
		tags = append(tags, w.Tag)
	}
	assert.ElementsMatch(t, []string{
		"#EXT-X-TARGETDURATION",
		"#EXT-X-KEY",
		"#EXTINF",
		"#EXTINF",
		"#EXT-X-BYTERANGE",
		"#EXT-X-STREAM-INF",
	}, tags)
}

func TestParseWithoutHeaderWarns(t *testing.T) {
	p, err := Parse("#EXTINF:1,\na.ts\n", "")
	require.NoError(t, err)
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0].Msg, "#EXTM3U")
}

func TestParseReturnsErrorWhenNothingUsable(t *testing.T) {
	_, err := Parse("#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:2,\n", "")
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, perr.Warnings, 1)
	assert.Contains(t, err.Error(), "no usable segments")
}

func TestParseByteRanges(t *testing.T) {
	raw := `#EXTM3U
#EXTINF:2,
#EXT-X-BYTERANGE:100@0
all.ts
#EXTINF:2,
#EXT-X-BYTERANGE:200
all.ts
#EXTINF:2,
#EXT-X-BYTERANGE:50
other.ts
`
	p, err := Parse(raw, "")
	require.NoError(t, err)
	require.Len(t, p.Segments, 3)
	assert.Equal(t, &ByteRange{Length: 100, Offset: 0}, p.Segments[0].ByteRange)
	assert.Equal(t, &ByteRange{Length: 200, Offset: 100}, p.Segments[1].ByteRange)
	assert.Equal(t, &ByteRange{Length: 50, Offset: 0}, p.Segments[2].ByteRange)
}

func TestParseCRLF(t *testing.T) {
	p, err := Parse("#EXTM3U\r\n#EXTINF:2,\r\na.ts\r\n", "")
	require.NoError(t, err)
	assert.Equal(t, "a.ts", p.Segments[0].URI)
	assert.Empty(t, p.Warnings)
}

func TestSplitAttributesKeepsQuotedCommas(t *testing.T) {
	attrs := parseAttributes(`BANDWIDTH=1,CODECS="avc1.4d401f,mp4a.40.2",resolution=640x360`)
	assert.Equal(t, "1", attrs["BANDWIDTH"])
	assert.Equal(t, "avc1.4d401f,mp4a.40.2", attrs["CODECS"])
	assert.Equal(t, "640x360", attrs["RESOLUTION"])
}

func TestSequenceIV(t *testing.T) {
	iv := SequenceIV(258)
	require.Len(t, iv, 16)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2}, iv)
}

func TestParseIVOddHex(t *testing.T) {
	iv, err := ParseIV("0x1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, iv)

	_, err = ParseIV("0xgg")
	assert.Error(t, err)
}
