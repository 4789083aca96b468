// SPDX-License-Identifier: GPL-3.0-only

package wayland

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

const (
	readBufferSize = 4096

	// maxFDsPerRead bounds the descriptors accepted per recvmsg.
	maxFDsPerRead = 28
)

var (
	// ErrNoDisplay is returned when no compositor socket can be located.
	ErrNoDisplay = errors.New("no wayland display available")

	// ErrConnectionClosed is returned when the compositor hangs up.
	ErrConnectionClosed = errors.New("wayland connection closed by compositor")
)

// Conn is a client connection to a compositor socket. Requests are buffered
// until Flush; incoming bytes are buffered until a complete message is available.
// Conn is not safe for concurrent use.
type Conn struct {
	fd      int
	out     []byte
	outFDs  []int
	in      []byte
	scratch []byte
	oob     []byte
	nextID  uint32
	freeIDs []uint32
}

// Dial connects to the compositor named by WAYLAND_SOCKET or WAYLAND_DISPLAY.
func Dial() (*Conn, error) {
	if s := os.Getenv("WAYLAND_SOCKET"); s != "" {
		fd, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid WAYLAND_SOCKET %q", ErrNoDisplay, s)
		}
		// The descriptor is ours alone; children must not inherit it.
		_ = os.Unsetenv("WAYLAND_SOCKET")
		unix.CloseOnExec(fd)
		return newConn(fd), nil
	}

	path, err := socketPath()
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return newConn(fd), nil
}

func newConn(fd int) *Conn {
	return &Conn{
		fd:      fd,
		scratch: make([]byte, readBufferSize),
		oob:     make([]byte, unix.CmsgSpace(maxFDsPerRead*4)),
		nextID:  displayID,
	}
}

// socketPath resolves WAYLAND_DISPLAY, defaulting to wayland-0 under XDG_RUNTIME_DIR.
func socketPath() (string, error) {
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", fmt.Errorf("%w: XDG_RUNTIME_DIR is not set", ErrNoDisplay)
	}
	return filepath.Join(runtimeDir, display), nil
}

// NewID allocates a client-side object id, reusing ids the compositor has released.
func (c *Conn) NewID() uint32 {
	if n := len(c.freeIDs); n > 0 {
		id := c.freeIDs[n-1]
		c.freeIDs = c.freeIDs[:n-1]
		return id
	}
	c.nextID++
	return c.nextID
}

// FreeID returns an id acknowledged by wl_display.delete_id to the pool.
func (c *Conn) FreeID(id uint32) {
	c.freeIDs = append(c.freeIDs, id)
}

// Send queues a request. The caller must keep m.FDs open until Flush returns.
func (c *Conn) Send(m Message) {
	c.out = m.appendTo(c.out)
	c.outFDs = append(c.outFDs, m.FDs...)
}

// Flush writes all queued requests to the socket.
func (c *Conn) Flush() error {
	for len(c.out) > 0 {
		var oob []byte
		if len(c.outFDs) > 0 {
			oob = unix.UnixRights(c.outFDs...)
		}
		n, err := unix.SendmsgN(c.fd, c.out, oob, nil, unix.MSG_NOSIGNAL)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to send requests: %w", err)
		}
		// Descriptors travel with the first byte sent.
		c.outFDs = c.outFDs[:0]
		c.out = c.out[n:]
	}
	c.out = nil
	return nil
}

// Readable reports, without blocking, whether the socket has data or a hangup pending.
func (c *Conn) Readable() (bool, error) {
	return pollReadable(c.fd)
}

// Read receives available bytes into the input buffer. With block unset it
// returns immediately when nothing is pending.
func (c *Conn) Read(block bool) error {
	flags := unix.MSG_CMSG_CLOEXEC
	if !block {
		flags |= unix.MSG_DONTWAIT
	}

	for {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, c.scratch, c.oob, flags)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil
		case err != nil:
			return fmt.Errorf("failed to receive events: %w", err)
		case n == 0:
			return ErrConnectionClosed
		}

		closeRights(c.oob[:oobn])
		c.in = append(c.in, c.scratch[:n]...)
		return nil
	}
}

// Next pops the next complete message from the input buffer.
func (c *Conn) Next() (Message, bool, error) {
	m, n, err := parseMessage(c.in)
	if err != nil {
		return Message{}, false, err
	}
	if n == 0 {
		return Message{}, false, nil
	}
	c.in = append(c.in[:0], c.in[n:]...)
	return m, true, nil
}

// Close closes the socket.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// pollReadable runs a zero-timeout poll on fd. An interrupted poll counts as
// not ready so the caller simply tries again on its next pass. A descriptor
// the kernel rejects (POLLNVAL) is an error.
func pollReadable(fd int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLERR | unix.POLLHUP}}
	n, err := unix.Poll(fds, 0)
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false, fmt.Errorf("poll: %w", unix.EBADF)
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0, nil
}

// closeRights closes any descriptors received with an event. None of the
// events handled here carry descriptors, so they are never needed.
func closeRights(oob []byte) {
	if len(oob) == 0 {
		return
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
	}
}
