package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media/h264reader"
)

// fileSource replays an H.264 Annex-B elementary stream as if it were a camera.
// End of file is reported as a capture failure, the stream is gone just like an
// unplugged camera.
type fileSource struct {
	config DeviceConfig
	pacer  *pacer

	mu      sync.Mutex
	file    *os.File
	reader  *h264reader.H264Reader
	pending *Frame

	done      chan struct{}
	closeOnce sync.Once
}

func openFile(config DeviceConfig) (*fileSource, error) {
	file, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	reader, err := h264reader.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: could not create h264 reader: %v", ErrDeviceUnavailable, err)
	}

	s := &fileSource{
		config: config,
		pacer:  newPacer(config.FrameInterval()),
		file:   file,
		reader: reader,
		done:   make(chan struct{}),
	}

	// Read the first access unit up front so the negotiated size is known after open.
	first, err := s.nextAccessUnit()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.pending = &first

	return s, nil
}

func (s *fileSource) Read(ctx context.Context) (Frame, error) {
	if err := s.pacer.wait(ctx, s.done); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		f.CapturedAt = time.Now()
		return f, nil
	}

	f, err := s.nextAccessUnit()
	if err != nil {
		return Frame{}, captureFailure(err)
	}
	f.CapturedAt = time.Now()
	return f, nil
}

// nextAccessUnit collects NAL units up to and including the next coded slice.
func (s *fileSource) nextAccessUnit() (Frame, error) {
	var (
		nalus    [][]byte
		keyframe bool
	)
	for {
		select {
		case <-s.done:
			return Frame{}, errDeviceClosed
		default:
		}

		nal, err := s.reader.NextNAL()
		if err != nil {
			if errors.Is(err, io.EOF) && len(nalus) > 0 {
				break
			}
			return Frame{}, fmt.Errorf("could not read NAL unit: %w", err)
		}

		nalus = append(nalus, nal.Data)
		switch nal.UnitType {
		case naluTypeSPS:
			if w, h, ok := spsSize(nal.Data); ok {
				s.config.Width, s.config.Height = w, h
			}
			continue
		case naluTypeSliceIDR:
			keyframe = true
		case naluTypeSliceNonIDR:
		default:
			continue
		}
		break
	}

	return Frame{
		Payload:  joinAnnexB(nalus),
		Width:    s.config.Width,
		Height:   s.config.Height,
		Keyframe: keyframe,
	}, nil
}

func (s *fileSource) Config() DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *fileSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		err = s.file.Close()
		s.mu.Unlock()
	})
	return err
}
