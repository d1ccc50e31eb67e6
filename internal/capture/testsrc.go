package capture

import (
	"context"
	"sync"
	"time"
)

const (
	maxTestSourceFrameRate = 60
	testPatternLength      = 64
)

// testSource is a synthetic camera. Every frame is a single IDR NAL unit in Annex-B
// form whose body encodes the frame sequence number followed by a filler pattern.
// No body byte is zero so the payload never contains a start code.
type testSource struct {
	config DeviceConfig
	pacer  *pacer
	seq    uint64

	done      chan struct{}
	closeOnce sync.Once
}

func openTestSource(config DeviceConfig) (*testSource, error) {
	negotiated := config
	// Like real cameras, the synthetic one snaps the requested mode to what it supports.
	negotiated.Width = evenAtLeast(config.Width, 16)
	negotiated.Height = evenAtLeast(config.Height, 16)
	if negotiated.FrameRate > maxTestSourceFrameRate {
		negotiated.FrameRate = maxTestSourceFrameRate
	}

	return &testSource{
		config: negotiated,
		pacer:  newPacer(negotiated.FrameInterval()),
		done:   make(chan struct{}),
	}, nil
}

func (s *testSource) Read(ctx context.Context) (Frame, error) {
	if err := s.pacer.wait(ctx, s.done); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, 0, len(annexBStartCode)+1+10+testPatternLength)
	payload = append(payload, annexBStartCode...)
	payload = append(payload, 0x65) // nal_ref_idc 3, IDR slice
	payload = append(payload, EncodeTestSequence(s.seq)...)
	for i := 0; i < testPatternLength; i++ {
		payload = append(payload, 0x80|byte((int(s.seq)+i)&0x7f))
	}
	s.seq++

	return Frame{
		Payload:    payload,
		Width:      s.config.Width,
		Height:     s.config.Height,
		Keyframe:   true,
		CapturedAt: time.Now(),
	}, nil
}

func (s *testSource) Config() DeviceConfig {
	return s.config
}

func (s *testSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// EncodeTestSequence encodes seq as ten 7-bit groups, least significant first,
// each with the high bit set.
func EncodeTestSequence(seq uint64) []byte {
	b := make([]byte, 10)
	for i := range b {
		b[i] = 0x80 | byte((seq>>(7*uint(i)))&0x7f)
	}
	return b
}

// DecodeTestSequence is the inverse of EncodeTestSequence. It returns false if b
// is too short.
func DecodeTestSequence(b []byte) (uint64, bool) {
	if len(b) < 10 {
		return 0, false
	}
	var seq uint64
	for i := 0; i < 10; i++ {
		seq |= uint64(b[i]&0x7f) << (7 * uint(i))
	}
	return seq, true
}

func evenAtLeast(v, min int) int {
	if v < min {
		v = min
	}
	return v &^ 1
}
