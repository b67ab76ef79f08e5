package hls

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/grafov/m3u8"
)

// EncodeMedia renders a media playlist with absolute URIs, the key and byte
// ranges as parsed. The output is written next to each track file so the
// track can be inspected or replayed with other tools.
func EncodeMedia(p *Playlist) (string, error) {
	if p == nil {
		return "", errors.New("hls: nil playlist")
	}
	if p.IsVariant {
		return "", errors.New("hls: cannot encode a master playlist as media playlist")
	}
	if len(p.Segments) == 0 {
		return "", errors.New("hls: playlist has no segments")
	}

	n := uint(len(p.Segments))
	mp, err := m3u8.NewMediaPlaylist(n, n)
	if err != nil {
		return "", fmt.Errorf("hls: new media playlist: %w", err)
	}
	if p.MediaSequence > 0 {
		mp.SeqNo = uint64(p.MediaSequence)
	}

	for i, seg := range p.Segments {
		if err := mp.Append(seg.URI, seg.Duration, seg.Title); err != nil {
			return "", fmt.Errorf("hls: append segment %d: %w", seg.Index, err)
		}
		if i == 0 && p.Key != nil {
			iv := ""
			if len(p.Key.IV) > 0 {
				iv = "0x" + hex.EncodeToString(p.Key.IV)
			}
			if err := mp.SetKey(string(p.Key.Method), p.Key.URI, iv, p.Key.KeyFormat, ""); err != nil {
				return "", fmt.Errorf("hls: set key: %w", err)
			}
		}
		if seg.ByteRange != nil {
			if err := mp.SetRange(seg.ByteRange.Length, seg.ByteRange.Offset); err != nil {
				return "", fmt.Errorf("hls: set range %d: %w", seg.Index, err)
			}
		}
		if seg.Discontinuity && i > 0 {
			if err := mp.SetDiscontinuity(); err != nil {
				return "", fmt.Errorf("hls: set discontinuity %d: %w", seg.Index, err)
			}
		}
	}
	mp.Close()
	return mp.Encode().String(), nil
}
