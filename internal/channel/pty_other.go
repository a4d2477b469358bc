//go:build !darwin && !linux

package channel

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// DefaultPTYWriteCapacity is the byte size of the PTY write buffer.
const DefaultPTYWriteCapacity = 256 * 1024

var errPTYUnsupported = errors.New("PTY transport is not supported on this platform")

// PTY is unavailable on this platform.
type PTY struct{}

func OpenPTY(int, *logrus.Logger) (*PTY, error) {
	return nil, errPTYUnsupported
}

func (p *PTY) TTYName() string              { return "" }
func (p *PTY) Read([]byte) (int, error)     { return 0, errPTYUnsupported }
func (p *PTY) Write([]byte) (int, error)    { return 0, errPTYUnsupported }
func (p *PTY) Close() error                 { return nil }
func (p *PTY) Stats() (int, uint64, uint64) { return 0, 0, 0 }
