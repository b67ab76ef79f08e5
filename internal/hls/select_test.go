package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectVariantPicksLargestHeight(t *testing.T) {
	variants := []VariantStream{
		{URI: "a", Bandwidth: 5_000_000, Resolution: Resolution{1280, 720}},
		{URI: "b", Bandwidth: 3_000_000, Resolution: Resolution{1920, 1080}},
		{URI: "c", Bandwidth: 800_000, Resolution: Resolution{640, 360}},
	}
	v, err := SelectVariant(variants)
	require.NoError(t, err)
	assert.Equal(t, "b", v.URI)
}

func TestSelectVariantBreaksTiesByBandwidth(t *testing.T) {
	variants := []VariantStream{
		{URI: "low", Bandwidth: 3_000_000, Resolution: Resolution{1920, 1080}},
		{URI: "high", Bandwidth: 6_000_000, Resolution: Resolution{1920, 1080}},
	}
	v, err := SelectVariant(variants)
	require.NoError(t, err)
	assert.Equal(t, "high", v.URI)
}

func TestSelectVariantInfersResolutionFromURI(t *testing.T) {
	variants := []VariantStream{
		{URI: "https://cdn/x/1280x720/index.m3u8", Bandwidth: 9_000_000},
		{URI: "https://cdn/x/1920x1080/index.m3u8", Bandwidth: 1_000_000},
		{URI: "https://cdn/x/audio/index.m3u8", Bandwidth: 128_000},
	}
	v, err := SelectVariant(variants)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x/1920x1080/index.m3u8", v.URI)
	assert.Equal(t, Resolution{1920, 1080}, v.Resolution)
}

func TestSelectVariantMixesDeclaredAndInferred(t *testing.T) {
	variants := []VariantStream{
		{URI: "hd/index.m3u8", Resolution: Resolution{1280, 720}},
		{URI: "stream_3840x2160.m3u8"},
	}
	v, err := SelectVariant(variants)
	require.NoError(t, err)
	assert.Equal(t, "stream_3840x2160.m3u8", v.URI)
}

func TestSelectVariantWithoutResolution(t *testing.T) {
	_, err := SelectVariant([]VariantStream{{URI: "a.m3u8", Bandwidth: 1}, {URI: "b.m3u8", Bandwidth: 2}})
	assert.ErrorIs(t, err, ErrNoUsableVariant)

	_, err = SelectVariant(nil)
	assert.ErrorIs(t, err, ErrNoUsableVariant)
}

func testRenditions() []Rendition {
	return []Rendition{
		{Type: RenditionAudio, GroupID: "aac", Language: "en", Name: "English", Default: true, URI: "en.m3u8"},
		{Type: RenditionAudio, GroupID: "aac", Language: "it", Name: "Italiano", URI: "it.m3u8"},
		{Type: RenditionAudio, GroupID: "ac3", Language: "en", Name: "English 5.1", URI: "en-ac3.m3u8"},
		{Type: RenditionAudio, GroupID: "aac", Language: "fr", Name: "Muxed"},
		{Type: RenditionSubtitles, GroupID: "subs", Language: "en-US", Name: "English", URI: "subs-en.m3u8"},
		{Type: RenditionSubtitles, GroupID: "subs", Language: "pt-BR", Name: "Portugues", Default: true, URI: "subs-pt.m3u8"},
	}
}

func TestSelectRenditionsDefault(t *testing.T) {
	sel, missing := SelectRenditions(testRenditions(), RenditionAudio, "aac", LanguageSelection{Mode: LanguagesDefault})
	require.Len(t, sel, 1)
	assert.Equal(t, "en.m3u8", sel[0].URI)
	assert.Empty(t, missing)
}

func TestSelectRenditionsAllSkipsRenditionsWithoutURI(t *testing.T) {
	sel, _ := SelectRenditions(testRenditions(), RenditionAudio, "aac", LanguageSelection{Mode: LanguagesAll})
	uris := []string{}
	for _, r := range sel {
		uris = append(uris, r.URI)
	}
	assert.Equal(t, []string{"en.m3u8", "it.m3u8"}, uris)
}

func TestSelectRenditionsListedReportsMissing(t *testing.T) {
	sel, missing := SelectRenditions(testRenditions(), RenditionAudio, "aac", Languages("IT", "de"))
	require.Len(t, sel, 1)
	assert.Equal(t, "it", sel[0].Language)
	assert.Equal(t, []string{"de"}, missing)
}

func TestSelectRenditionsMatchesPrimarySubtag(t *testing.T) {
	sel, missing := SelectRenditions(testRenditions(), RenditionSubtitles, "", Languages("en", "pt-br"))
	require.Len(t, sel, 2)
	assert.Equal(t, "subs-en.m3u8", sel[0].URI)
	assert.Equal(t, "subs-pt.m3u8", sel[1].URI)
	assert.Empty(t, missing)
}

func TestSelectRenditionsNone(t *testing.T) {
	sel, missing := SelectRenditions(testRenditions(), RenditionAudio, "", LanguageSelection{})
	assert.Nil(t, sel)
	assert.Nil(t, missing)
}

func TestMatchLanguage(t *testing.T) {
	cases := []struct {
		have, want string
		ok         bool
	}{
		{"en", "EN", true},
		{"en-US", "en", true},
		{"en_GB", "en", true},
		{"en-US", "en-GB", false},
		{"pt-BR", "pt-br", true},
		{"", "en", false},
		{"eng", "en", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, MatchLanguage(tc.have, tc.want), "%s vs %s", tc.have, tc.want)
	}
}
