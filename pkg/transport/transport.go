// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package transport supplies the record layer with contiguous buffers of
// raw wire data: whole records on the read side, record-sized scratch
// space on the write side. It owns all I/O buffering so the layers above
// it can work zero-copy on borrowed spans.
package transport

import "errors"

var (
	// ErrWantRead signals that the underlying source cannot currently
	// provide the requested amount of data. The operation can be
	// retried once more data has arrived.
	ErrWantRead = errors.New("transport: not enough incoming data, retry")
	// ErrWantWrite signals that the underlying sink cannot currently
	// accept more data. The operation can be retried after a flush.
	ErrWantWrite = errors.New("transport: cannot accept outgoing data, retry")
	// ErrOutOfBounds signals a request outside the provider's buffers: a
	// fetch crossing a datagram boundary or exceeding the stream buffer,
	// or a dispatch beyond the writable span.
	ErrOutOfBounds = errors.New("transport: fetch request exceeds datagram bounds")
)

// Provider is the lower-layer contract consumed by the record layer.
//
// The read side is a fetch-and-consume cycle: Fetch(n) exposes the first
// n unconsumed bytes as one contiguous read-only span, growing the same
// span on repeated calls; Consume releases the span fetched so far and
// Skip additionally discards everything up to the next datagram boundary
// (a no-op distinction for streams).
//
// The write side is a write-and-dispatch cycle: Write(min) exposes a
// writable span of at least min bytes behind any already-dispatched
// data; Dispatch(n) commits the first n bytes of that span, and Flush
// pushes all committed bytes to the underlying transport.
type Provider interface {
	Fetch(n int) ([]byte, error)
	Consume() error
	Skip() error

	Write(min int) ([]byte, error)
	Dispatch(n int) error
	// Pending returns the number of dispatched bytes not yet flushed.
	Pending() int
	Flush() error
}

// defaultBufferSize comfortably holds a maximum-size protected record
// including the datagram header.
const defaultBufferSize = 1 << 15
