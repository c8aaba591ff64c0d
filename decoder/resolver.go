package decoder

import (
	"DriveDecoder/core"
)

// Resolver is the per-scan device registry. Identities are keyed by serial
// number so every descriptor of one physical device resolves to the same
// *core.DeviceIdentity. A Resolver must not be shared between scans.
type Resolver struct {
	devices map[string]*core.DeviceIdentity
	order   []string
}

// NewResolver creates an empty registry
func NewResolver() *Resolver {
	return &Resolver{
		devices: make(map[string]*core.DeviceIdentity),
	}
}

// Resolve returns the canonical identity for the event's descriptor.
// The first identity registered for a serial wins.
func (r *Resolver) Resolve(event core.UsbLogEvent) (*core.DeviceIdentity, error) {
	id, err := ExtractIdentity(event.Descriptor, event.Fields)
	if err != nil {
		return nil, err
	}

	if existing, ok := r.devices[id.SerialNumber]; ok {
		return existing, nil
	}

	device := &id
	r.devices[id.SerialNumber] = device
	r.order = append(r.order, id.SerialNumber)
	return device, nil
}

// Lookup finds an already resolved identity
func (r *Resolver) Lookup(serial string) (*core.DeviceIdentity, bool) {
	d, ok := r.devices[serial]
	return d, ok
}

// Len returns the number of distinct devices seen
func (r *Resolver) Len() int {
	return len(r.devices)
}

// Devices returns the identities in first-seen order
func (r *Resolver) Devices() []*core.DeviceIdentity {
	out := make([]*core.DeviceIdentity, 0, len(r.order))
	for _, serial := range r.order {
		out = append(out, r.devices[serial])
	}
	return out
}
