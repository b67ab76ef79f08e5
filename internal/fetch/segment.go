package fetch

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"hlsdl/internal/decrypt"
	"hlsdl/internal/hls"
	"hlsdl/internal/netx"
	"hlsdl/internal/throughput"
)

// fetchSegment downloads, decrypts and cleans one segment, retrying up to
// opts.MaxAttempts times. Attempt n goes to host (Index+n) of opts.Hosts.
func (o *Orchestrator) fetchSegment(ctx context.Context, seg hls.Segment, dec *decrypt.Decryptor, opts Options, est *throughput.Estimator) ([]byte, error) {
	attempts := 0
	retry := netx.RetryOptions{
		Retries:   opts.MaxAttempts - 1,
		BaseDelay: opts.RetryDelay,
		MaxDelay:  8 * opts.RetryDelay,
	}
	if retry.Retries == 0 {
		retry.Retries = -1
	}

	data, err := netx.RetryOperation(ctx, retry, func() ([]byte, error) {
		n := attempts
		attempts++
		if n > 0 {
			o.metrics.SegmentRetried(opts.Kind)
		}
		uri := netx.RotateHost(seg.URI, opts.Hosts, seg.Index+n)
		var offset, length int64
		if seg.ByteRange != nil {
			offset, length = seg.ByteRange.Offset, seg.ByteRange.Length
		}

		start := time.Now()
		b, err := o.net.FetchSegment(ctx, uri, offset, length)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)

		if dec != nil {
			if opts.PerSegmentIV {
				b, err = dec.DecryptWithIV(b, hls.SequenceIV(seg.Sequence))
			} else {
				b, err = dec.Decrypt(b)
			}
			if err != nil {
				return nil, fmt.Errorf("decrypt: %w", err)
			}
		}
		if isPackedAudio(seg.URI) {
			if h := packedAudioHeaderSize(b); h <= len(b) {
				b = b[h:]
			}
		}
		est.Observe(int64(len(b)), elapsed)
		return b, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SegmentFetchError{Index: seg.Index, URI: seg.URI, Attempts: attempts, Err: err}
	}
	o.metrics.SegmentFetched(opts.Kind, len(data))
	return data, nil
}

func isPackedAudio(rawURL string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".aac")
}

// packedAudioHeaderSize returns the byte length of an ID3v2 header prefix.
// Packed audio segments may start with timestamp metadata that must not end
// up in the merged elementary stream.
func packedAudioHeaderSize(data []byte) int {
	if len(data) < 10 {
		return 0
	}
	if data[0] != 'I' || data[1] != 'D' || data[2] != '3' {
		return 0
	}
	// The tag size is a 28-bit synchsafe integer and excludes the 10-byte
	// header and the optional 10-byte footer.
	size := 10 + (int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f))
	if data[5]&0x10 != 0 {
		size += 10
	}
	return size
}
