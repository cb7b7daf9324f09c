//go:build fips

package crypto

// FIPSMode reports whether the binary was built with the fips tag.
// In FIPS mode a failed self-test panics at package load.
func FIPSMode() bool { return true }
