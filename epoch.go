// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mps

import (
	"github.com/pion/transport/v3/replaydetector"

	"github.com/pion/mps/pkg/protocol/recordlayer"
	"github.com/pion/mps/pkg/transform"
)

// EpochID identifies a generation of connection state. Epochs are
// created in ascending order starting at zero and retired as the window
// slides past them.
type EpochID int32

// EpochNone is the sentinel for "no epoch".
const EpochNone EpochID = -1

// EpochMax bounds the epoch space; epochs travel as uint16 on the wire.
const EpochMax EpochID = 1 << 16

// EpochUsage is the set of permissions attached to an epoch.
type EpochUsage uint8

// EpochUsage enums.
const (
	// EpochRead permits incoming records under the epoch.
	EpochRead EpochUsage = 1 << iota
	// EpochWrite permits outgoing records under the epoch.
	EpochWrite
)

const replayWindowSize = 64

// epoch is one live slot of the epoch window.
type epoch struct {
	transform transform.Transform
	usage     EpochUsage // datagram mode permissions

	outSeq uint64
	inSeq  uint64 // stream: implicit counter of the next incoming record

	lastSeen uint64 // datagram: sequence of the last accepted record
	replay   replaydetector.ReplayDetector
}

// epochWindow is the sliding window of live epochs. In stream mode the
// defaultIn/defaultOut offsets select the single readable and writable
// slot; in datagram mode each slot carries its own usage bits.
type epochWindow struct {
	window []*epoch
	base   EpochID
	next   int

	defaultIn  int // stream offset, -1 = none
	defaultOut int // stream offset, -1 = none
}

func newEpochWindow(size int) epochWindow {
	return epochWindow{
		window:     make([]*epoch, size),
		defaultIn:  -1,
		defaultOut: -1,
	}
}

func (w *epochWindow) offset(id EpochID) (int, error) {
	if id == EpochNone || id < w.base {
		return 0, ErrInvalidEpoch
	}
	off := int(id - w.base)
	if off >= w.next {
		return 0, ErrInvalidEpoch
	}

	return off, nil
}

func (w *epochWindow) lookup(id EpochID) (*epoch, error) {
	off, err := w.offset(id)
	if err != nil {
		return nil, err
	}

	return w.window[off], nil
}

// EpochAdd appends an epoch protected by t to the window and returns
// its identity. Ownership of t moves to the layer: it is closed when
// the window slides past the epoch or the layer is closed. A nil t
// denotes identity protection. If the window is full, retired slots are
// cleaned up first; ErrTooManyEpochs is returned when none can be.
func (l *Layer) EpochAdd(t transform.Transform) (EpochID, error) {
	if err := l.poisoned(); err != nil {
		return EpochNone, err
	}

	if l.epochs.next == len(l.epochs.window) {
		if err := l.epochCleanup(); err != nil {
			return EpochNone, err
		}
		if l.epochs.next == len(l.epochs.window) {
			return EpochNone, ErrTooManyEpochs
		}
	}

	e := &epoch{transform: t}
	if l.mode == ModeDatagram && l.conf.antiReplay {
		e.replay = replaydetector.New(replayWindowSize, recordlayer.MaxSequenceNumber)
	}

	id := l.epochs.base + EpochID(l.epochs.next)
	l.epochs.window[l.epochs.next] = e
	l.epochs.next++

	l.log.Tracef("added epoch %d", id)

	return id, nil
}

// EpochUsage sets the read/write permissions of an epoch. Granting a
// permission in stream mode implicitly revokes it from the previous
// default epoch; revoking a permission that is in active use fails with
// ErrEpochChangeRejected. Epochs left without permissions are retired
// once the window can slide past them.
func (l *Layer) EpochUsage(id EpochID, usage EpochUsage) error { //nolint:cyclop
	if err := l.poisoned(); err != nil {
		return err
	}

	off, err := l.epochs.offset(id)
	if err != nil {
		return err
	}

	removeRead, removeWrite := EpochNone, EpochNone
	if l.mode == ModeStream {
		if usage&EpochRead != 0 && l.epochs.defaultIn >= 0 && l.epochs.defaultIn != off {
			removeRead = l.epochs.base + EpochID(l.epochs.defaultIn)
		}
		if usage&EpochWrite != 0 && l.epochs.defaultOut >= 0 && l.epochs.defaultOut != off {
			removeWrite = l.epochs.base + EpochID(l.epochs.defaultOut)
		}
	} else {
		removal := l.epochs.window[off].usage &^ usage
		if removal&EpochRead != 0 {
			removeRead = id
		}
		if removal&EpochWrite != 0 {
			removeWrite = id
		}
	}

	if removeRead != EpochNone {
		if err := l.epochCheckRemoveRead(removeRead); err != nil {
			return err
		}
	}
	if removeWrite != EpochNone {
		if err := l.epochCheckRemoveWrite(removeWrite); err != nil {
			return err
		}
	}

	if l.mode == ModeStream {
		if usage&EpochRead != 0 {
			l.epochs.defaultIn = off
		}
		if usage&EpochWrite != 0 {
			l.epochs.defaultOut = off
		}
	} else {
		l.epochs.window[off].usage = usage
	}

	return l.epochCleanup()
}

// epochCheckRemoveRead refuses to revoke read permission from an epoch
// an active or paused reader still depends on.
func (l *Layer) epochCheckRemoveRead(id EpochID) error {
	if l.in.active.state == readerStateExternal && l.in.active.epoch == id {
		return ErrEpochChangeRejected
	}
	if l.in.paused.state == readerStatePaused && l.in.paused.epoch == id {
		return ErrEpochChangeRejected
	}

	// An internally open record of the epoch is allowed here: the next
	// ReadStart re-validates the epoch and fails cleanly. This rejects
	// piggy-backing a message of the new epoch onto a record protected
	// by the old one.
	return nil
}

// epochCheckRemoveWrite dispatches an internally open record of the
// epoch and refuses if the writer is in the user's hands.
func (l *Layer) epochCheckRemoveWrite(id EpochID) error {
	if l.out.state == writerStateUnset || l.out.epoch != id {
		return nil
	}
	if l.out.state == writerStateExternal {
		return ErrEpochChangeRejected
	}
	if l.out.state == writerStateInternal {
		if err := l.releaseAndDispatch(true); err != nil {
			return err
		}
	}

	return nil
}

// epochCheck validates that id is live and carries the given permission.
func (l *Layer) epochCheck(id EpochID, usage EpochUsage) error {
	off, err := l.epochs.offset(id)
	if err != nil {
		return err
	}

	if l.mode == ModeDatagram {
		if l.epochs.window[off].usage&usage != usage {
			return ErrInvalidEpoch
		}

		return nil
	}

	if usage&EpochRead != 0 && l.epochs.defaultIn != off {
		return ErrInvalidEpoch
	}
	if usage&EpochWrite != 0 && l.epochs.defaultOut != off {
		return ErrInvalidEpoch
	}

	return nil
}

// epochCleanup retires leading epochs that are no longer needed and
// slides the window past them, closing their transforms. An epoch is
// needed while it holds permissions or, in stream mode, while queued
// outgoing data belongs to it.
func (l *Layer) epochCleanup() error { //nolint:cyclop
	shift := 0
	if l.mode == ModeStream {
		queuedOffset := -1
		if l.out.state == writerStateQueueing {
			queuedOffset = int(l.out.epoch - l.epochs.base)
		}
		for off := 0; off < l.epochs.next; off++ {
			if off == l.epochs.defaultIn || off == l.epochs.defaultOut || off == queuedOffset {
				break
			}
			shift = off + 1
		}
	} else {
		for off := 0; off < l.epochs.next; off++ {
			if l.epochs.window[off].usage != 0 {
				break
			}
			shift = off + 1
		}
	}

	if shift == 0 {
		return nil
	}

	maxShift := int(EpochMax - (l.epochs.base + EpochID(len(l.epochs.window))))
	if shift > maxShift {
		shift = maxShift
	}
	if shift == 0 {
		return nil
	}

	for off := 0; off < shift; off++ {
		if e := l.epochs.window[off]; e != nil {
			if err := transform.Close(e.transform); err != nil {
				return err
			}
		}
		l.log.Tracef("retired epoch %d", l.epochs.base+EpochID(off))
	}

	copy(l.epochs.window, l.epochs.window[shift:])
	for off := len(l.epochs.window) - shift; off < len(l.epochs.window); off++ {
		l.epochs.window[off] = nil
	}
	l.epochs.base += EpochID(shift)
	l.epochs.next -= shift

	if l.mode == ModeStream {
		if l.epochs.defaultIn >= 0 {
			l.epochs.defaultIn -= shift
		}
		if l.epochs.defaultOut >= 0 {
			l.epochs.defaultOut -= shift
		}
	}

	return nil
}

// nextOutSeq consumes the next outgoing sequence number of an epoch.
func (l *Layer) nextOutSeq(id EpochID) (uint64, error) {
	e, err := l.epochs.lookup(id)
	if err != nil {
		return 0, err
	}

	seq := e.outSeq
	if l.mode == ModeDatagram && seq > recordlayer.MaxSequenceNumber {
		return 0, ErrCounterWrap
	}
	e.outSeq++
	if e.outSeq == 0 {
		return 0, ErrCounterWrap
	}

	return seq, nil
}

// updateInCounter records the acceptance of an incoming record.
func (l *Layer) updateInCounter(id EpochID, seq uint64, accept func()) error {
	e, err := l.epochs.lookup(id)
	if err != nil {
		return err
	}

	if l.mode == ModeStream {
		e.inSeq = seq + 1
		if e.inSeq == 0 {
			return ErrCounterWrap
		}

		return nil
	}

	e.lastSeen = seq
	if accept != nil {
		accept()
	}

	return nil
}

// ForceNextSequenceNumber overrides the next outgoing sequence number
// of an epoch. Datagram mode only; needed to resend a ClientHello with
// the sequence number demanded by a HelloVerifyRequest (RFC 6347).
func (l *Layer) ForceNextSequenceNumber(id EpochID, seq uint64) error {
	if err := l.poisoned(); err != nil {
		return err
	}
	if l.mode != ModeDatagram {
		return ErrUnexpectedOperation
	}
	if seq > recordlayer.MaxSequenceNumber {
		return ErrInvalidArgs
	}

	e, err := l.epochs.lookup(id)
	if err != nil {
		return err
	}
	e.outSeq = seq

	return nil
}

// LastSequenceNumber returns the sequence number of the most recent
// valid record received under the epoch. Datagram mode only.
func (l *Layer) LastSequenceNumber(id EpochID) (uint64, error) {
	if err := l.poisoned(); err != nil {
		return 0, err
	}
	if l.mode != ModeDatagram {
		return 0, ErrUnexpectedOperation
	}

	e, err := l.epochs.lookup(id)
	if err != nil {
		return 0, err
	}

	return e.lastSeen, nil
}
