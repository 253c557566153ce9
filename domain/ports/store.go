package ports

import "github.com/datenlord/wbpf-userspace/domain/entities"

// ImageStore persists linked images.
type ImageStore interface {
	Load(name string) (*entities.Image, error)
	Save(name string, img *entities.Image) error
	List() ([]string, error)
}

// DeviceSnapshot is the persisted state of an emulated device.
type DeviceSnapshot struct {
	Memory     []byte                    `json:"memory"`
	Exceptions []entities.ExceptionState `json:"exceptions,omitempty"`
	Perf       []entities.PerfCounters   `json:"perf,omitempty"`
}

// DeviceStore persists emulated device state between command invocations.
type DeviceStore interface {
	// Load returns the stored snapshot, or nil when none exists yet.
	Load() (*DeviceSnapshot, error)
	Save(snapshot *DeviceSnapshot) error
	// ConfigPath returns the path to the backing store (for user messaging).
	ConfigPath() string
}
