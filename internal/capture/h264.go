package capture

import (
	"bytes"

	"github.com/deepch/vdk/codec/h264parser"
)

// NAL unit types used here.
const (
	naluTypeSliceNonIDR = 1
	naluTypeSliceIDR    = 5
	naluTypeSPS         = 7
	naluTypePPS         = 8
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// joinAnnexB prefixes every NAL unit with a start code and concatenates them.
func joinAnnexB(nalus [][]byte) []byte {
	var buf bytes.Buffer
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		buf.Write(annexBStartCode)
		buf.Write(nalu)
	}
	return buf.Bytes()
}

// spsSize returns the picture size carried by an SPS NAL unit.
func spsSize(nalu []byte) (width, height int, ok bool) {
	info, err := h264parser.ParseSPS(nalu)
	if err != nil || info.Width == 0 || info.Height == 0 {
		return 0, 0, false
	}
	return int(info.Width), int(info.Height), true
}

// H264Decoder inspects Annex-B or AVC access units and fills in the picture
// size and keyframe flag. Pixel reconstruction is left to whoever renders the frame,
// the decoder keeps the last SPS so frames between keyframes still carry a size.
type H264Decoder struct {
	width  int
	height int
}

// NewH264Decoder returns a decoder with no SPS seen yet.
func NewH264Decoder() *H264Decoder {
	return &H264Decoder{}
}

// Decode returns f with Width, Height and Keyframe set from its NAL units.
func (d *H264Decoder) Decode(f Frame) Frame {
	nalus, _ := h264parser.SplitNALUs(f.Payload)
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1f {
		case naluTypeSPS:
			if w, h, ok := spsSize(nalu); ok {
				d.width, d.height = w, h
			}
		case naluTypeSliceIDR:
			f.Keyframe = true
		}
	}
	if d.width > 0 {
		f.Width, f.Height = d.width, d.height
	}
	return f
}

// Reset forgets the last seen SPS.
func (d *H264Decoder) Reset() {
	d.width, d.height = 0, 0
}
