//go:build !fips

package crypto

// FIPSMode reports whether the binary was built with the fips tag.
func FIPSMode() bool { return false }
