//go:build !linux

package input

// Open reports ErrUnsupported; raw scan codes are only read through evdev.
func Open(Options) (Source, error) {
	return nil, ErrUnsupported
}
