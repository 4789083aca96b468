// SPDX-License-Identifier: GPL-3.0-only

package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// headerSize is the size of a message header: sender id, then size<<16|opcode.
const headerSize = 8

var (
	errShortMessage = errors.New("message truncated")
	errBadHeader    = errors.New("malformed message header")
)

// Message is a single request or event on the wire. Integers are encoded in
// host byte order, as the protocol only ever runs over a local socket.
type Message struct {
	Sender uint32
	Opcode uint16
	Args   []byte
	// FDs are passed out of band alongside the message bytes.
	FDs []int
}

// Size returns the encoded length of the message including its header.
func (m Message) Size() int {
	return headerSize + len(m.Args)
}

func (m Message) appendTo(buf []byte) []byte {
	buf = binary.NativeEndian.AppendUint32(buf, m.Sender)
	buf = binary.NativeEndian.AppendUint32(buf, uint32(m.Size())<<16|uint32(m.Opcode))
	return append(buf, m.Args...)
}

// parseMessage splits the first complete message off buf. It returns the
// number of bytes consumed, or zero when buf does not yet hold a full message.
func parseMessage(buf []byte) (Message, int, error) {
	if len(buf) < headerSize {
		return Message{}, 0, nil
	}
	sender := binary.NativeEndian.Uint32(buf[0:4])
	word := binary.NativeEndian.Uint32(buf[4:8])
	size := int(word >> 16)
	if size < headerSize || size%4 != 0 {
		return Message{}, 0, fmt.Errorf("%w: size %d", errBadHeader, size)
	}
	if len(buf) < size {
		return Message{}, 0, nil
	}

	args := make([]byte, size-headerSize)
	copy(args, buf[headerSize:size])
	return Message{Sender: sender, Opcode: uint16(word & 0xffff), Args: args}, size, nil
}

// argWriter encodes request arguments.
type argWriter struct {
	buf []byte
}

func newArgs() *argWriter {
	return &argWriter{}
}

func (w *argWriter) uint(v uint32) *argWriter {
	w.buf = binary.NativeEndian.AppendUint32(w.buf, v)
	return w
}

// str encodes a length-prefixed, NUL-terminated string padded to 32 bits.
func (w *argWriter) str(s string) *argWriter {
	w.buf = binary.NativeEndian.AppendUint32(w.buf, uint32(len(s)+1))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
	return w
}

func (w *argWriter) bytes() []byte {
	return w.buf
}

// argReader decodes event arguments in order.
type argReader struct {
	buf []byte
}

func (r *argReader) uint() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, errShortMessage
	}
	v := binary.NativeEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, nil
}

func (r *argReader) int() (int32, error) {
	v, err := r.uint()
	return int32(v), err
}

func (r *argReader) string() (string, error) {
	n, err := r.uint()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	padded := (int(n) + 3) &^ 3
	if len(r.buf) < padded || int(n) > len(r.buf) {
		return "", errShortMessage
	}
	s := string(r.buf[:n-1])
	r.buf = r.buf[padded:]
	return s, nil
}
