//go:build !portaudio

package device

// DefaultBackend returns a backend whose methods fail with ErrUnsupported.
func DefaultBackend() Backend { return unsupported{} }

type unsupported struct{}

func (unsupported) Open(StreamConfig, func([]int16)) (Stream, error) { return nil, ErrUnsupported }

func (unsupported) Devices() ([]DeviceInfo, error) { return nil, ErrUnsupported }
