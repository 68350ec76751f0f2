// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mps

import (
	"crypto/rand"
	"io"

	"github.com/pion/logging"

	"github.com/pion/mps/pkg/protocol"
)

// Mode selects the transport flavour of the record layer.
type Mode uint8

// Mode enums. Stream maps to TLS, Datagram to DTLS.
const (
	ModeStream Mode = iota
	ModeDatagram
)

// TypeFlag carries the per-content-type behaviour bits.
type TypeFlag uint8

// TypeFlag enums.
const (
	// TypePausable allows messages of the type to span multiple
	// records, with the unfinished tail held in the accumulator.
	TypePausable TypeFlag = 1 << iota
	// TypeMergeable allows multiple messages of the type to share one
	// record, on both the read and the write side.
	TypeMergeable
	// TypeEmptyAllowed permits records with an empty body.
	TypeEmptyAllowed

	flagRegistered TypeFlag = 1 << 7
)

const (
	defaultMaxPlaintext  = 16384
	defaultMaxCiphertext = 16384 + 2048

	defaultAccumulatorSize = 16384
	defaultQueueSize       = 16384

	defaultEpochWindowSize = 2
)

type config struct {
	maxPlaintextIn  int
	maxPlaintextOut int
	maxCiphertextIn int

	accumulatorSize int
	queueSize       int
	epochWindowSize int

	badMACLimit uint32
	antiReplay  bool

	discardUnauthenticated bool
	stateValidation        bool

	version protocol.Version
	rand    io.Reader

	typeFlags [int(protocol.MaxContentType) + 1]TypeFlag

	loggerFactory logging.LoggerFactory
}

func defaultConfig() config {
	return config{
		maxPlaintextIn:  defaultMaxPlaintext,
		maxPlaintextOut: defaultMaxPlaintext,
		maxCiphertextIn: defaultMaxCiphertext,
		accumulatorSize: defaultAccumulatorSize,
		queueSize:       defaultQueueSize,
		epochWindowSize: defaultEpochWindowSize,
		antiReplay:      true,
		stateValidation: true,
		rand:            rand.Reader,
		loggerFactory:   logging.NewDefaultLoggerFactory(),
	}
}

func (c *config) flags(t protocol.ContentType) TypeFlag {
	if !t.Valid() {
		return 0
	}

	return c.typeFlags[t]
}

func (c *config) typeRegistered(t protocol.ContentType) bool {
	return c.flags(t)&flagRegistered != 0
}

func (c *config) typePausable(t protocol.ContentType) bool {
	return c.flags(t)&TypePausable != 0
}

func (c *config) typeMergeable(t protocol.ContentType) bool {
	return c.flags(t)&TypeMergeable != 0
}

func (c *config) typeEmptyAllowed(t protocol.ContentType) bool {
	return c.flags(t)&TypeEmptyAllowed != 0
}

// Option configures a Layer.
type Option func(*config)

// WithLoggerFactory sets the logger factory for the layer's logger.
func WithLoggerFactory(factory logging.LoggerFactory) Option {
	return func(c *config) { c.loggerFactory = factory }
}

// WithRandomReader sets the randomness source handed to transforms for
// explicit-nonce generation. Defaults to crypto/rand.
func WithRandomReader(r io.Reader) Option {
	return func(c *config) { c.rand = r }
}

// WithMaxPlaintextIn bounds the plaintext size of accepted records.
func WithMaxPlaintextIn(n int) Option {
	return func(c *config) { c.maxPlaintextIn = n }
}

// WithMaxPlaintextOut bounds the plaintext size of produced records.
func WithMaxPlaintextOut(n int) Option {
	return func(c *config) { c.maxPlaintextOut = n }
}

// WithMaxCiphertextIn bounds the ciphertext size of accepted records.
func WithMaxCiphertextIn(n int) Option {
	return func(c *config) { c.maxCiphertextIn = n }
}

// WithReadAccumulator sets the size of the reassembly accumulator for
// pausable content types. It must hold the largest message expected to
// span records. A size of zero disables pausing.
func WithReadAccumulator(size int) Option {
	return func(c *config) { c.accumulatorSize = size }
}

// WithWriteQueue sets the size of the overflow queue for pausable
// outgoing content. A size of zero disables write queueing.
func WithWriteQueue(size int) Option {
	return func(c *config) { c.queueSize = size }
}

// WithEpochWindowSize sets the number of simultaneously live epochs.
func WithEpochWindowSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.epochWindowSize = n
		}
	}
}

// WithBadMACLimit makes datagram mode tolerate up to n records with bad
// authentication tags before failing hard. Zero, the default, tolerates
// any number.
func WithBadMACLimit(n uint32) Option {
	return func(c *config) { c.badMACLimit = n }
}

// WithoutAntiReplay disables the datagram replay window.
func WithoutAntiReplay() Option {
	return func(c *config) { c.antiReplay = false }
}

// WithDiscardUnauthenticatedRecords makes stream mode silently drop
// records that fail authentication instead of failing the layer. This
// is the behaviour TLS 1.3 requires from servers receiving EarlyData
// they cannot decrypt.
func WithDiscardUnauthenticatedRecords() Option {
	return func(c *config) { c.discardUnauthenticated = true }
}

// WithoutStateValidation disables the precondition checks that turn
// out-of-order API usage into ErrUnexpectedOperation. With validation
// off, such usage has undefined results.
func WithoutStateValidation() Option {
	return func(c *config) { c.stateValidation = false }
}
