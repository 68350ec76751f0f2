// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package mps implements the record layer of a (D)TLS message
// processing stack: record framing and protection, a sliding window of
// cryptographic epochs with sequence and replay state, and the
// pausable/mergeable content streams that let messages cross record
// boundaries without copying when they don't have to.
//
// A Layer sits between a transport.Provider, which buffers raw wire
// data, and a handshake engine above, which consumes and produces typed
// messages through the reader and writer primitives in pkg/mps.
package mps

import (
	"errors"

	"github.com/pion/logging"

	"github.com/pion/mps/pkg/mps/reader"
	"github.com/pion/mps/pkg/mps/writer"
	"github.com/pion/mps/pkg/protocol"
	"github.com/pion/mps/pkg/protocol/recordlayer"
	"github.com/pion/mps/pkg/transform"
	"github.com/pion/mps/pkg/transport"
)

type readerState uint8

const (
	readerStateUnset readerState = iota
	readerStatePaused
	readerStateInternal
	readerStateExternal
)

type writerState uint8

const (
	writerStateUnset writerState = iota
	writerStateQueueing
	writerStateInternal
	writerStateExternal
)

// inSlot is one of the two reader slots: at any time one is active
// (serving the open record, if any) and the other may hold a paused
// content stream awaiting continuation.
type inSlot struct {
	state readerState
	typ   protocol.ContentType
	epoch EpochID
	rd    *reader.Reader
}

// inbound is the read half of the layer.
type inbound struct {
	active *inSlot
	paused *inSlot

	accumulator []byte
	badMACCount uint32
}

// outbound is the write half of the layer.
type outbound struct {
	state writerState
	typ   protocol.ContentType
	epoch EpochID
	wr    *writer.Writer

	queue []byte

	hdr     []byte
	payload transform.Payload

	// flush records a pending obligation to deliver all dispatched
	// data; clearing records that the transport flush itself still has
	// to complete. Writes are refused while either is set.
	flush    bool
	clearing bool
}

// Inbound exposes a pending incoming record to the caller: its content
// type, its epoch, and the reader serving its payload.
type Inbound struct {
	Type   protocol.ContentType
	Epoch  EpochID
	Reader *reader.Reader
}

// Outbound exposes an open outgoing record to the caller.
type Outbound struct {
	Type   protocol.ContentType
	Epoch  EpochID
	Writer *writer.Writer
}

// Layer is a (D)TLS record layer instance for one connection. It is
// not safe for concurrent use; concurrent connections use independent
// layers.
type Layer struct {
	conf     config
	mode     Mode
	provider transport.Provider
	log      logging.LeveledLogger

	version protocol.Version

	in     inbound
	out    outbound
	epochs epochWindow

	fatal  error
	closed bool
}

// New creates a record layer in the given mode on top of provider.
func New(mode Mode, provider transport.Provider, opts ...Option) (*Layer, error) {
	if provider == nil {
		return nil, ErrInvalidArgs
	}

	conf := defaultConfig()
	for _, opt := range opts {
		opt(&conf)
	}

	l := &Layer{
		conf:     conf,
		mode:     mode,
		provider: provider,
		log:      conf.loggerFactory.NewLogger("mps"),
		version:  conf.version,
		epochs:   newEpochWindow(conf.epochWindowSize),
	}

	l.in.active = &inSlot{epoch: EpochNone}
	l.in.paused = &inSlot{epoch: EpochNone}
	l.out.epoch = EpochNone

	if mode == ModeStream {
		if conf.accumulatorSize > 0 {
			l.in.accumulator = make([]byte, conf.accumulatorSize)
		}
		if conf.queueSize > 0 {
			l.out.queue = make([]byte, conf.queueSize)
		}
	}

	return l, nil
}

// RegisterContentType declares a content type as valid for this layer
// and attaches its behaviour flags. Registering a type twice or
// registering an out-of-range type fails with ErrInvalidArgs.
func (l *Layer) RegisterContentType(t protocol.ContentType, flags TypeFlag) error {
	if err := l.poisoned(); err != nil {
		return err
	}
	if !t.Valid() || l.conf.typeRegistered(t) {
		return ErrInvalidArgs
	}
	l.conf.typeFlags[t] = flags | flagRegistered

	return nil
}

// SetVersion pins the record version. Until a version is set, the
// layer accepts any version of its family and locks onto the version
// of the first authenticated record.
func (l *Layer) SetVersion(v protocol.Version) error {
	if err := l.poisoned(); err != nil {
		return err
	}
	if l.mode == ModeStream && !v.IsStream() {
		return ErrInvalidArgs
	}
	if l.mode == ModeDatagram && !v.IsDatagram() {
		return ErrInvalidArgs
	}
	l.version = v

	return nil
}

// Close releases the layer and the transforms it owns. It may be
// called in any state; afterwards no other operation is legal.
func (l *Layer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	for off := 0; off < l.epochs.next; off++ {
		if e := l.epochs.window[off]; e != nil {
			if err := transform.Close(e.transform); err != nil && firstErr == nil {
				firstErr = err
			}
			l.epochs.window[off] = nil
		}
	}
	l.epochs.next = 0
	l.in.active = &inSlot{epoch: EpochNone}
	l.in.paused = &inSlot{epoch: EpochNone}
	l.out.state = writerStateUnset
	l.out.wr = nil

	return firstErr
}

// poisoned reports the terminal state of the layer, if any.
func (l *Layer) poisoned() error {
	if l.closed {
		return ErrLayerClosed
	}

	return l.fatal
}

// fatalize records err as the layer's terminal state and returns it.
// Only Close is legal afterwards.
func (l *Layer) fatalize(err error) error {
	l.fatal = err
	l.log.Errorf("layer poisoned: %v", err)

	return err
}

// headerSize returns the record header length of the current mode.
func (l *Layer) headerSize() int {
	if l.mode == ModeDatagram {
		return recordlayer.DatagramHeaderSize
	}

	return recordlayer.StreamHeaderSize
}

// wireVersion is the version stamped on outgoing records: the pinned
// version, or the family's initial handshake version before pinning.
func (l *Layer) wireVersion() protocol.Version {
	if !l.version.IsZero() {
		return l.version
	}
	if l.mode == ModeDatagram {
		return protocol.VersionDTLS10
	}

	return protocol.VersionTLS10
}

// checkVersion validates an incoming record version against the
// configuration.
func (l *Layer) checkVersion(v protocol.Version) error {
	if l.mode == ModeDatagram && !v.IsDatagram() {
		return ErrInvalidRecord
	}
	if l.mode == ModeStream && !v.IsStream() {
		return ErrInvalidRecord
	}
	if !l.version.IsZero() && !l.version.Equal(v) {
		return ErrInvalidRecord
	}

	return nil
}

// observeVersion locks the layer onto the version of the first
// authenticated record when no version was configured.
func (l *Layer) observeVersion(v protocol.Version) {
	if l.version.IsZero() {
		l.version = v
		l.log.Tracef("locked record version onto %d.%d", v.Major, v.Minor)
	}
}

// mapTransportError rewrites transport retry signals into the layer's
// error taxonomy.
func mapTransportError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrWantRead):
		return ErrWantRead
	case errors.Is(err, transport.ErrWantWrite):
		return ErrWantWrite
	default:
		return err
	}
}
