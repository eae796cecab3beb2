package diag

// Sampler measures the resident memory of the calling process.
type Sampler interface {
	// MaxRSSKilobytes returns the peak resident set size in kilobytes.
	MaxRSSKilobytes() (int64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (int64, error)

func (f SamplerFunc) MaxRSSKilobytes() (int64, error) { return f() }

// RusageSampler reads the peak resident set size of the current process
// from getrusage.
type RusageSampler struct{}

var _ Sampler = RusageSampler{}

// ToMegabytes converts kilobytes to whole megabytes, truncating.
func ToMegabytes(kb int64) int64 {
	return kb / 1024
}
