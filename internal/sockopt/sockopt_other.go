//go:build !unix

package sockopt

// Socket options are left at their platform defaults.
func apply(uintptr, Options) error { return nil }
