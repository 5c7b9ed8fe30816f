//go:build nonvml
// +build nonvml

package nvml

import (
	"errors"

	"github.com/worldland/worldland-launcher/internal/domain"
)

var errUnavailable = errors.New("NVML not available (built with nonvml tag)")

// NVMLProvider stub - used when building without NVIDIA libraries
type NVMLProvider struct{}

func NewNVMLProvider() *NVMLProvider {
	return &NVMLProvider{}
}

func (p *NVMLProvider) Init() error {
	return errUnavailable
}

func (p *NVMLProvider) Shutdown() error {
	return nil
}

func (p *NVMLProvider) DeviceCount() (int, error) {
	return 0, errUnavailable
}

func (p *NVMLProvider) Devices() ([]domain.Device, error) {
	return nil, errUnavailable
}

// Compile-time interface check
var _ domain.DeviceProvider = (*NVMLProvider)(nil)
