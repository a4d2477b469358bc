//go:build darwin || linux

package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/beaconscan/internal/groutine"
	"golang.org/x/term"
)

// DefaultPTYWriteCapacity is the byte size of the PTY write buffer.
const DefaultPTYWriteCapacity = 256 * 1024

// PTY is a pseudo-terminal the host opens by path (TTYName) to talk to the
// plugin. Reads come straight from the master; writes are queued in a ring
// buffer and drained by a background goroutine so a host that stops reading
// never blocks the session writer.
type PTY struct {
	master  *os.File
	slave   *os.File
	ttyName string
	logger  *logrus.Logger

	writeBuf *ringbuffer.RingBuffer
	pending  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed       atomic.Bool
	droppedBytes atomic.Uint64
	writtenBytes atomic.Uint64
}

// OpenPTY creates a raw-mode PTY pair. writeCap <= 0 selects
// DefaultPTYWriteCapacity.
func OpenPTY(writeCap int, logger *logrus.Logger) (*PTY, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if writeCap <= 0 {
		writeCap = DefaultPTYWriteCapacity
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	// The slave stays open for the PTY lifetime so the device node survives
	// host reconnects.
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		ttyName := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w", ttyName, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		master:   master,
		slave:    slave,
		ttyName:  slave.Name(),
		logger:   logger,
		writeBuf: ringbuffer.New(writeCap),
		pending:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(1)
	groutine.Go(ctx, "pty-write-loop", func(ctx context.Context) {
		defer p.wg.Done()
		p.writeLoop(ctx)
	})

	logger.WithField("tty", p.ttyName).Info("PTY ready")
	return p, nil
}

// TTYName returns the slave device path, e.g. "/dev/pts/5".
func (p *PTY) TTYName() string {
	return p.ttyName
}

// Read reads host bytes from the master. It blocks until data arrives or the
// PTY is closed.
func (p *PTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	return p.master.Read(b)
}

// Write queues data for the host. When the buffer is full the tail of data is
// dropped and the short count is returned without an error.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if written < len(data) {
		dropped := len(data) - written
		p.droppedBytes.Add(uint64(dropped))
		p.logger.Warnf("PTY write buffer overflow: dropped %d bytes (tried %d, queued %d)", dropped, len(data), written)
	}

	select {
	case p.pending <- struct{}{}:
	default:
	}
	return written, nil
}

func (p *PTY) writeLoop(ctx context.Context) {
	master := p.master
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.pending:
		}

		for {
			n, err := p.writeBuf.TryRead(buf)
			if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
				p.logger.Warnf("PTY write buffer read error: %v", err)
				break
			}
			if n == 0 {
				break
			}

			for offset := 0; offset < n; {
				written, err := master.Write(buf[offset:n])
				offset += written
				p.writtenBytes.Add(uint64(written))
				if err != nil {
					if errors.Is(err, os.ErrClosed) {
						return
					}
					p.logger.Warnf("PTY write failed: %v", err)
					return
				}
			}
		}
	}
}

// Stats reports buffered, written and dropped byte counts.
func (p *PTY) Stats() (queued int, written, dropped uint64) {
	return p.writeBuf.Length(), p.writtenBytes.Load(), p.droppedBytes.Load()
}

// Close stops the writer and closes both ends.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY(ptmx): %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY(tty): %w", err))
	}
	p.wg.Wait()
	return errors.Join(errs...)
}
