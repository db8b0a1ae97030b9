//go:build !portaudio

package device

// System returns the platform audio backend. This build has none; build
// with -tags portaudio to open real devices.
func System() Opener {
	return Unsupported
}
