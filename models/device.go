package models

// DeviceInfo is the public view of an assembled device.
type DeviceInfo struct {
	ID           string            `json:"device_id"`
	Name         string            `json:"device_name"`
	Model        string            `json:"device_model"`
	Capabilities []string          `json:"capabilities"`
	Controllers  map[string]string `json:"controllers"` // key -> implementation
}

// HostInfo is the public view of the host and its devices.
type HostInfo struct {
	Name    string       `json:"host_name"`
	URL     string       `json:"host_url,omitempty"`
	Port    string       `json:"host_port"`
	Devices []DeviceInfo `json:"devices"`
}
