//go:build !unix

package diag

import "runtime"

// MaxRSSKilobytes falls back to the memory the Go runtime obtained from the
// OS where getrusage is unavailable.
func (RusageSampler) MaxRSSKilobytes() (int64, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Sys / 1024), nil
}
