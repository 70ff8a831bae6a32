//go:build portaudio

package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// DefaultBackend returns the PortAudio backend.
func DefaultBackend() Backend { return &paBackend{} }

// paBackend initialises PortAudio once per open stream and terminates it on
// close; PortAudio reference-counts Initialize/Terminate pairs.
type paBackend struct{}

func (paBackend) Devices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio initialize: %w", err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []DeviceInfo
	for i, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		info := DeviceInfo{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name && d.HostApi == def.HostApi,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

func (paBackend) Open(cfg StreamConfig, cb func([]int16)) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio initialize: %w", err)
	}

	var (
		stream *portaudio.Stream
		err    error
	)
	if cfg.DeviceIndex == DefaultDevice {
		stream, err = portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, cb)
	} else {
		var devs []*portaudio.DeviceInfo
		devs, err = portaudio.Devices()
		if err == nil && (cfg.DeviceIndex < 0 || cfg.DeviceIndex >= len(devs)) {
			err = fmt.Errorf("no device with index %d", cfg.DeviceIndex)
		}
		if err == nil {
			dev := devs[cfg.DeviceIndex]
			params := portaudio.LowLatencyParameters(dev, nil)
			params.Input.Channels = 1
			params.SampleRate = float64(cfg.SampleRate)
			params.FramesPerBuffer = cfg.FramesPerBuffer
			stream, err = portaudio.OpenStream(params, cb)
		}
	}
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio start stream: %w", err)
	}
	return &paStream{stream: stream}, nil
}

type paStream struct {
	stream    *portaudio.Stream
	closeOnce sync.Once
}

func (s *paStream) Stop() error { return s.stream.Stop() }

func (s *paStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
		if termErr := portaudio.Terminate(); err == nil {
			err = termErr
		}
	})
	return err
}
