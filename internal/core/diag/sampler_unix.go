//go:build unix && !darwin && !ios

package diag

import "golang.org/x/sys/unix"

// MaxRSSKilobytes reports ru_maxrss, which these platforms express in
// kilobytes.
func (RusageSampler) MaxRSSKilobytes() (int64, error) {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return 0, err
	}
	return int64(usage.Maxrss), nil
}
