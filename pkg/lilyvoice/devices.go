package lilyvoice

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefault         bool
	IsInput           bool
	IsOutput          bool
	HostAPI           string
}

// DeviceManager enumerates and validates audio devices. It is the
// device-access provider the capture controller reads from when a specific
// input device is requested.
type DeviceManager struct {
	mu      sync.RWMutex
	devices []AudioDevice
	log     *Logger
}

func NewDeviceManager(logger *Logger) *DeviceManager {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &DeviceManager{
		log: logger.WithComponent("DeviceManager"),
	}
}

// Initialize initializes PortAudio and loads the device list.
func (dm *DeviceManager) Initialize() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		dm.log.WithError(err).Error("Failed to initialize PortAudio")
		return newDeviceError(err)
	}

	if err := dm.refreshDevices(); err != nil {
		dm.log.WithError(err).Error("Failed to refresh device list")
		return newDeviceError(err)
	}

	dm.log.WithField("device_count", len(dm.devices)).Info("Device manager initialized")
	return nil
}

// Cleanup releases PortAudio.
func (dm *DeviceManager) Cleanup() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := portaudio.Terminate(); err != nil {
		dm.log.WithError(err).Error("Failed to terminate PortAudio")
	}
}

func (dm *DeviceManager) refreshDevices() error {
	dm.devices = dm.devices[:0]

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		dm.log.WithError(err).Warn("No default input device")
	}
	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		dm.log.WithError(err).Warn("No default output device")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}

	for i, dev := range devices {
		hostAPIName := "Unknown"
		if dev.HostApi != nil {
			hostAPIName = dev.HostApi.Name
		}

		device := AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev == defaultInput || dev == defaultOutput,
			IsInput:           dev.MaxInputChannels > 0,
			IsOutput:          dev.MaxOutputChannels > 0,
			HostAPI:           hostAPIName,
		}
		dm.devices = append(dm.devices, device)
	}

	return nil
}

// Devices returns all available audio devices.
func (dm *DeviceManager) Devices() []AudioDevice {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	devices := make([]AudioDevice, len(dm.devices))
	copy(devices, dm.devices)
	return devices
}

// InputDevices returns all input-capable devices.
func (dm *DeviceManager) InputDevices() []AudioDevice {
	return dm.filter(func(d AudioDevice) bool { return d.IsInput })
}

// OutputDevices returns all output-capable devices.
func (dm *DeviceManager) OutputDevices() []AudioDevice {
	return dm.filter(func(d AudioDevice) bool { return d.IsOutput })
}

func (dm *DeviceManager) filter(keep func(AudioDevice) bool) []AudioDevice {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	out := make([]AudioDevice, 0, len(dm.devices))
	for _, device := range dm.devices {
		if keep(device) {
			out = append(out, device)
		}
	}
	return out
}

// DeviceByID returns a device by its ID.
func (dm *DeviceManager) DeviceByID(id int) (*AudioDevice, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, device := range dm.devices {
		if device.ID == id {
			return &device, nil
		}
	}
	return nil, NewClientError(fmt.Sprintf("device %d not found", id), ErrCodeDeviceUnavailable)
}

// DeviceByName returns a device by its name.
func (dm *DeviceManager) DeviceByName(name string) (*AudioDevice, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, device := range dm.devices {
		if device.Name == name {
			return &device, nil
		}
	}
	return nil, NewClientError(fmt.Sprintf("device %q not found", name), ErrCodeDeviceUnavailable)
}

// ValidateDevice checks that a device exists and supports the requested
// direction and channel count.
func (dm *DeviceManager) ValidateDevice(deviceID int, isInput bool, channels int) error {
	device, err := dm.DeviceByID(deviceID)
	if err != nil {
		return err
	}

	if isInput {
		if !device.IsInput {
			return NewClientError(fmt.Sprintf("device %q is not an input device", device.Name),
				ErrCodeDeviceUnavailable)
		}
		if device.MaxInputChannels < channels {
			return NewClientError(fmt.Sprintf("device %q supports max %d input channels, requested %d",
				device.Name, device.MaxInputChannels, channels), ErrCodeDeviceUnavailable)
		}
		return nil
	}

	if !device.IsOutput {
		return NewClientError(fmt.Sprintf("device %q is not an output device", device.Name),
			ErrCodeDeviceUnavailable)
	}
	if device.MaxOutputChannels < channels {
		return NewClientError(fmt.Sprintf("device %q supports max %d output channels, requested %d",
			device.Name, device.MaxOutputChannels, channels), ErrCodeDeviceUnavailable)
	}
	return nil
}
