package driver

import "fmt"

// Registry resolves carrier drivers by company code.
type Registry struct {
	drivers map[string]CarrierDriver
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]CarrierDriver)}
}

// Register binds a driver to a carrier code, replacing any previous binding.
func (r *Registry) Register(code string, d CarrierDriver) {
	r.drivers[code] = d
}

// Size reports how many carrier drivers are registered.
func (r *Registry) Size() int {
	return len(r.drivers)
}

// Resolve returns the driver for the carrier code or a NotFound error.
func (r *Registry) Resolve(code string) (CarrierDriver, error) {
	d, ok := r.drivers[code]
	if !ok {
		return nil, NotFound("resolveDriver", fmt.Sprintf("no driver registered for carrier %q", code))
	}
	return d, nil
}
