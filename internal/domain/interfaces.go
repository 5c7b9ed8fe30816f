package domain

// Device is one local accelerator as seen by the driver.
type Device struct {
	Index       int    `json:"index"`
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	MemoryTotal uint64 `json:"memory_total_mb"`
	MemoryUsed  uint64 `json:"memory_used_mb"`
	Utilization uint32 `json:"util_percent"`
}

// DeviceProvider enumerates local accelerators. Callers must Init before
// querying and Shutdown when done.
type DeviceProvider interface {
	Init() error
	Shutdown() error
	// DeviceCount returns the number of devices the driver reports
	DeviceCount() (int, error)
	// Devices returns a snapshot of every device that could be queried
	Devices() ([]Device, error)
}
