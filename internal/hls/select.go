package hls

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoUsableVariant is returned when no variant declares or implies a resolution.
var ErrNoUsableVariant = errors.New("hls: no variant with a usable resolution")

// knownResolutions are matched literally against variant URIs, largest first.
var knownResolutions = []Resolution{
	{7680, 4320},
	{5120, 2880},
	{3840, 2160},
	{2560, 1440},
	{1920, 1080},
	{1600, 900},
	{1280, 720},
	{1024, 576},
	{960, 540},
	{854, 480},
	{848, 480},
	{720, 480},
	{640, 480},
}

// InferResolution looks for a well-known WIDTHxHEIGHT pair in uri.
func InferResolution(uri string) (Resolution, bool) {
	lower := strings.ToLower(uri)
	for _, r := range knownResolutions {
		if strings.Contains(lower, fmt.Sprintf("%dx%d", r.Width, r.Height)) {
			return r, true
		}
	}
	return Resolution{}, false
}

// SelectVariant returns the variant with the largest resolution height, using
// bandwidth to break ties. Variants without RESOLUTION fall back to
// InferResolution; variants with neither are ignored. The returned variant
// carries the resolution it was ranked by.
func SelectVariant(variants []VariantStream) (VariantStream, error) {
	best := -1
	var bestRes Resolution
	for i, v := range variants {
		res := v.Resolution
		if res.Height <= 0 {
			inferred, ok := InferResolution(v.URI)
			if !ok {
				continue
			}
			res = inferred
		}
		if best < 0 || res.Height > bestRes.Height ||
			(res.Height == bestRes.Height && v.Bandwidth > variants[best].Bandwidth) {
			best = i
			bestRes = res
		}
	}
	if best < 0 {
		return VariantStream{}, ErrNoUsableVariant
	}
	selected := variants[best]
	selected.Resolution = bestRes
	return selected, nil
}

// LanguageMode tells SelectRenditions which renditions to keep.
type LanguageMode int

const (
	LanguagesNone LanguageMode = iota
	LanguagesDefault
	LanguagesAll
	LanguagesListed
)

// LanguageSelection is a per-track-type language filter.
type LanguageSelection struct {
	Mode      LanguageMode
	Languages []string
}

// Languages returns a LanguageSelection for an explicit list of language tags.
// An empty list selects the default renditions.
func Languages(langs ...string) LanguageSelection {
	if len(langs) == 0 {
		return LanguageSelection{Mode: LanguagesDefault}
	}
	return LanguageSelection{Mode: LanguagesListed, Languages: langs}
}

// SelectRenditions filters media to downloadable renditions of type typ.
//
// When group is not empty and at least one rendition belongs to it, only that
// group is considered. Renditions without a URI are carried in the variant
// stream and are never returned. One rendition is kept per language.
//
// For LanguagesListed, requested languages with no matching rendition are
// returned in missing.
func SelectRenditions(media []Rendition, typ RenditionType, group string, sel LanguageSelection) (selected []Rendition, missing []string) {
	if sel.Mode == LanguagesNone {
		return nil, nil
	}
	candidates := renditionsOf(media, typ, group)

	switch sel.Mode {
	case LanguagesAll:
		return candidates, nil
	case LanguagesDefault:
		for _, r := range candidates {
			if r.Default {
				selected = append(selected, r)
			}
		}
		return selected, nil
	}

	seen := make(map[string]bool)
	for _, want := range sel.Languages {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		found := false
		for _, r := range candidates {
			if !MatchLanguage(r.Language, want) {
				continue
			}
			found = true
			if key := renditionKey(r); !seen[key] {
				seen[key] = true
				selected = append(selected, r)
			}
			break
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return selected, missing
}

func renditionsOf(media []Rendition, typ RenditionType, group string) []Rendition {
	inGroup := false
	if group != "" {
		for _, r := range media {
			if r.Type == typ && r.GroupID == group && r.URI != "" {
				inGroup = true
				break
			}
		}
	}
	seen := make(map[string]bool)
	var out []Rendition
	for _, r := range media {
		if r.Type != typ || r.URI == "" {
			continue
		}
		if inGroup && r.GroupID != group {
			continue
		}
		key := renditionKey(r)
		if seen[key] {
			// Prefer the default rendition when a language appears twice.
			if r.Default {
				for i := range out {
					if renditionKey(out[i]) == key && !out[i].Default {
						out[i] = r
					}
				}
			}
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func renditionKey(r Rendition) string {
	if r.Language != "" {
		return strings.ToLower(r.Language)
	}
	return "name:" + strings.ToLower(r.Name)
}

// MatchLanguage reports whether the rendition language have satisfies the
// requested tag want. Matching ignores case, and a request without a region
// subtag matches any region ("en" matches "en-US").
func MatchLanguage(have, want string) bool {
	have = strings.TrimSpace(have)
	want = strings.TrimSpace(want)
	if have == "" || want == "" {
		return false
	}
	if strings.EqualFold(have, want) {
		return true
	}
	if strings.ContainsAny(want, "-_") {
		return false
	}
	return strings.EqualFold(primarySubtag(have), want)
}

func primarySubtag(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}
