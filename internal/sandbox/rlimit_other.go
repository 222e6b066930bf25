//go:build !linux

package sandbox

// limitAddressSpace is a no-op off Linux; the soft memory limit still applies.
func limitAddressSpace(int64) error { return nil }
