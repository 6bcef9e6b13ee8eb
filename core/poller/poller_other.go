//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package poller

// New reports ErrUnsupported on platforms without epoll or kqueue
func New() (Poller, error) {
	return nil, ErrUnsupported
}
