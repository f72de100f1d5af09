package config

// Every overridable setting resolves the same way: the device-level value
// wins when present, otherwise the global section applies. These helpers keep
// that rule in one place instead of scattering nil checks through the
// pipeline.

// ReaderDirections returns the effective readerNo->direction table for a
// device. Nil means no table is configured at either level.
func (c *Config) ReaderDirections(d *Device) map[string]string {
	if d != nil && d.Mapping != nil && len(d.Mapping.ReaderDirection) > 0 {
		return d.Mapping.ReaderDirection
	}
	return c.Mapping.ReaderDirection
}

// SuccessMinorCodes returns the effective success-minor-code list for a
// device. Nil means no list is configured, which normalizes to an unknown
// success state rather than false.
func (c *Config) SuccessMinorCodes(d *Device) []int {
	if d != nil && d.Mapping != nil && d.Mapping.SuccessMinorCodes != nil {
		return d.Mapping.SuccessMinorCodes
	}
	return c.Mapping.SuccessMinorCodes
}

// AllowedDirections returns the effective direction allow-list for a device.
// An empty list means allow all.
func (c *Config) AllowedDirections(d *Device) []string {
	if d != nil && d.Filter != nil && len(d.Filter.AllowedDirections) > 0 {
		return d.Filter.AllowedDirections
	}
	return c.Filter.AllowedDirections
}

// OnlySuccess returns the effective only-successful policy for a device.
func (c *Config) OnlySuccess(d *Device) bool {
	if d != nil && d.Filter != nil {
		return d.Filter.OnlySuccess
	}
	return c.Filter.OnlySuccess
}

// IncludeUnknownDirection returns whether events whose direction resolved to
// UNKNOWN may pass the filter for a device.
func (c *Config) IncludeUnknownDirection(d *Device) bool {
	if d != nil && d.Filter != nil {
		return d.Filter.IncludeUnknownDirection
	}
	return c.Filter.IncludeUnknownDirection
}
