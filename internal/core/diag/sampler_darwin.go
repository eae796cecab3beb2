//go:build darwin || ios

package diag

import "golang.org/x/sys/unix"

// MaxRSSKilobytes reports ru_maxrss, which Apple platforms express in bytes.
func (RusageSampler) MaxRSSKilobytes() (int64, error) {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return 0, err
	}
	return int64(usage.Maxrss) / 1024, nil
}
