package nvml

import "github.com/worldland/worldland-launcher/internal/domain"

// MockProvider serves a fixed device list for tests and machines without
// NVIDIA drivers.
type MockProvider struct {
	List    []domain.Device
	InitErr error
}

func NewMockProvider(devices ...domain.Device) *MockProvider {
	return &MockProvider{List: devices}
}

func (p *MockProvider) Init() error {
	return p.InitErr
}

func (p *MockProvider) Shutdown() error {
	return nil
}

func (p *MockProvider) DeviceCount() (int, error) {
	return len(p.List), nil
}

func (p *MockProvider) Devices() ([]domain.Device, error) {
	return p.List, nil
}

// Compile-time interface check
var _ domain.DeviceProvider = (*MockProvider)(nil)
