// SPDX-License-Identifier: GPL-3.0-only

package wayland

import (
	"errors"
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrInvalidBufferSize is returned when a ramp buffer of non-positive size is requested.
var ErrInvalidBufferSize = errors.New("invalid ramp buffer size")

//go:generate mockgen -source=buffer.go -destination=mocks/buffer_mock.go -package=mocks

// Buffer is shared memory holding one output's gamma table.
type Buffer interface {
	// Samples returns the table as 16-bit samples, three planes back to back.
	Samples() []uint16

	// Fd returns the descriptor handed to the compositor.
	Fd() int

	// Rewind resets the descriptor's file offset so the compositor reads from the start.
	Rewind() error

	// Close unmaps the memory and closes the descriptor.
	Close() error
}

// Allocator creates a Buffer of the given size in bytes.
type Allocator func(size int) (Buffer, error)

// RampBuffer is an anonymous memory file mapped shared into this process.
// It has no name on any filesystem.
type RampBuffer struct {
	fd   int
	data []byte
}

// Verify RampBuffer implements Buffer interface.
var _ Buffer = (*RampBuffer)(nil)

// AllocateRampBuffer creates and maps an anonymous memory file of size bytes.
func AllocateRampBuffer(size int) (Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBufferSize, size)
	}

	fd, err := unix.MemfdCreate("wl-nightshift-gamma", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create memfd: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to size memfd: %w", err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to map memfd: %w", err)
	}

	return &RampBuffer{fd: fd, data: data}, nil
}

// Samples returns the mapping viewed as 16-bit samples in host byte order.
func (b *RampBuffer) Samples() []uint16 {
	if len(b.data) < 2 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(unsafe.SliceData(b.data))), len(b.data)/2)
}

// Fd returns the memfd descriptor.
func (b *RampBuffer) Fd() int {
	return b.fd
}

// Rewind seeks the memfd back to offset zero.
func (b *RampBuffer) Rewind() error {
	_, err := unix.Seek(b.fd, 0, io.SeekStart)
	return err
}

// Close unmaps and closes the buffer. It is safe to call more than once.
func (b *RampBuffer) Close() error {
	var errs []error
	if b.data != nil {
		errs = append(errs, unix.Munmap(b.data))
		b.data = nil
	}
	if b.fd >= 0 {
		errs = append(errs, unix.Close(b.fd))
		b.fd = -1
	}
	return errors.Join(errs...)
}
