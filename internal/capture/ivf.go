package capture

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// IVFSource streams a pre-encoded IVF file as a video track, pacing frames
// by the file's timebase. The stream ends when the file runs out, which
// exercises the same teardown path as a capture device going away.
type IVFSource struct {
	path string

	doneOnce sync.Once
	done     chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
}

func NewIVFSource(path string) *IVFSource {
	return &IVFSource{
		path: path,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
}

func (s *IVFSource) Acquire(_ context.Context) (webrtc.TrackLocal, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	mimeType := webrtc.MimeTypeVP8
	switch header.FourCC {
	case "VP90":
		mimeType = webrtc.MimeTypeVP9
	case "AV01":
		mimeType = webrtc.MimeTypeAV1
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType}, "video", "screenroom")
	if err != nil {
		f.Close()
		return nil, err
	}

	go s.pump(f, reader, header, track)
	return track, nil
}

func (s *IVFSource) pump(f *os.File, reader *ivfreader.IVFReader, header *ivfreader.IVFFileHeader, track *webrtc.TrackLocalStaticSample) {
	defer f.Close()
	defer s.doneOnce.Do(func() { close(s.done) })

	frameDuration := time.Millisecond *
		time.Duration(float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator)*1000)
	if frameDuration <= 0 {
		frameDuration = time.Second / 30
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return
		}
	}
}

func (s *IVFSource) Done() <-chan struct{} {
	return s.done
}

func (s *IVFSource) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
