// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package transport

import (
	"errors"
	"io"
)

// Stream buffers a TLS byte stream over an io.ReadWriter. A short read
// from the underlying reader surfaces as ErrWantRead so event-driven
// callers can retry once more bytes are available; sources that block
// until data arrives (net.Conn) never produce it.
type Stream struct {
	rw io.ReadWriter

	in      []byte
	inLen   int
	fetched int

	out        []byte
	dispatched int
}

// NewStream creates a Stream provider over rw with default buffers.
func NewStream(rw io.ReadWriter) *Stream {
	return NewStreamSize(rw, defaultBufferSize)
}

// NewStreamSize creates a Stream provider with the given buffer size,
// which bounds the largest record it can carry in either direction.
func NewStreamSize(rw io.ReadWriter, size int) *Stream {
	return &Stream{
		rw:  rw,
		in:  make([]byte, size),
		out: make([]byte, size),
	}
}

// Fetch implements Provider.
func (s *Stream) Fetch(n int) ([]byte, error) {
	if n > len(s.in) {
		return nil, ErrOutOfBounds
	}
	for s.inLen < n {
		read, err := s.rw.Read(s.in[s.inLen:])
		s.inLen += read
		if err != nil {
			if errors.Is(err, io.EOF) && s.inLen < n {
				return nil, ErrWantRead
			}
			if s.inLen < n {
				return nil, err
			}
		} else if read == 0 {
			return nil, ErrWantRead
		}
	}
	s.fetched = n

	return s.in[:n], nil
}

// Consume implements Provider.
func (s *Stream) Consume() error {
	copy(s.in, s.in[s.fetched:s.inLen])
	s.inLen -= s.fetched
	s.fetched = 0

	return nil
}

// Skip implements Provider. Streams have no message boundaries, so
// skipping is the same as consuming the fetched span.
func (s *Stream) Skip() error {
	return s.Consume()
}

// Write implements Provider.
func (s *Stream) Write(min int) ([]byte, error) {
	if len(s.out)-s.dispatched < min {
		return nil, ErrWantWrite
	}

	return s.out[s.dispatched:], nil
}

// Dispatch implements Provider.
func (s *Stream) Dispatch(n int) error {
	if n < 0 || s.dispatched+n > len(s.out) {
		return ErrOutOfBounds
	}
	s.dispatched += n

	return nil
}

// Pending implements Provider.
func (s *Stream) Pending() int {
	return s.dispatched
}

// Flush implements Provider.
func (s *Stream) Flush() error {
	if s.dispatched == 0 {
		return nil
	}
	n, err := s.rw.Write(s.out[:s.dispatched])
	if n < s.dispatched {
		// Short write: keep the unwritten tail for the next Flush.
		copy(s.out, s.out[n:s.dispatched])
		s.dispatched -= n
		if err == nil || n > 0 || errors.Is(err, io.ErrShortWrite) {
			return ErrWantWrite
		}

		return err
	}
	if err != nil {
		return err
	}
	s.dispatched = 0

	return nil
}
