// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mps

import (
	"errors"

	"github.com/pion/mps/pkg/mps/reader"
	"github.com/pion/mps/pkg/protocol/recordlayer"
	"github.com/pion/mps/pkg/transform"
	"github.com/pion/mps/pkg/transport"
)

// errReplayedRecord marks a record caught by the replay window. It
// never escapes the layer: replayed datagrams are dropped silently.
var errReplayedRecord = errors.New("replayed record") //nolint:err113

// ReadStart opens the next incoming record and exposes its payload
// through the returned Inbound. It is not idempotent: a successful call
// must be matched by ReadDone before the next one.
//
// In datagram mode, records that are malformed, replayed or fail
// authentication below the bad-MAC limit are dropped silently; the
// call then returns ErrWantRead, as it does whenever the transport runs
// out of data mid-record.
func (l *Layer) ReadStart() (*Inbound, error) {
	if err := l.poisoned(); err != nil {
		return nil, err
	}
	if l.conf.stateValidation && l.in.active.state == readerStateExternal {
		return nil, ErrUnexpectedOperation
	}

	if l.in.active.state != readerStateInternal {
		if err := l.fetchAndRoute(); err != nil {
			return nil, err
		}
	}

	// Re-validate the epoch even when continuing an already open
	// record: permissions may have moved on between two messages
	// sharing it, and the remainder must not ride on the old epoch.
	if err := l.epochCheck(l.in.active.epoch, EpochRead); err != nil {
		return nil, l.fatalize(ErrInvalidRecord)
	}

	active := l.in.active
	active.state = readerStateExternal

	return &Inbound{Type: active.typ, Epoch: active.epoch, Reader: active.rd}, nil
}

// ReadDone releases the record opened by ReadStart. Depending on how
// much of the payload the caller consumed, the layer either closes the
// record, keeps it open for further messages (mergeable types), or
// pauses the unfinished message until the next record of the same type
// (pausable types).
func (l *Layer) ReadDone() error { //nolint:cyclop
	if err := l.poisoned(); err != nil {
		return err
	}
	if l.conf.stateValidation && l.in.active.state != readerStateExternal {
		return ErrUnexpectedOperation
	}

	active := l.in.active
	paused, err := active.rd.Reclaim()
	switch {
	case errors.Is(err, reader.ErrDataLeft):
		if !l.conf.typeMergeable(active.typ) {
			return l.fatalize(ErrCannotMerge)
		}
		l.log.Tracef("data remaining in record, type %d stays open", active.typ)
		active.state = readerStateInternal

		return nil
	case errors.Is(err, reader.ErrNeedAccumulator):
		if l.mode == ModeStream && l.conf.typePausable(active.typ) {
			return l.fatalize(ErrNeedAccumulator)
		}

		return l.fatalize(ErrCannotPause)
	case errors.Is(err, reader.ErrAccumulatorTooSmall):
		return l.fatalize(ErrNeedAccumulator)
	case err != nil:
		return err
	}

	if err := l.provider.Consume(); err != nil {
		return mapTransportError(err)
	}

	if !paused {
		active.state = readerStateUnset
		active.rd = nil
		active.epoch = EpochNone

		return nil
	}

	if l.mode != ModeStream || !l.conf.typePausable(active.typ) ||
		l.in.paused.state != readerStateUnset {
		return l.fatalize(ErrCannotPause)
	}

	l.log.Tracef("pausing type %d with %d byte backlog", active.typ, active.rd.Available())
	free := l.in.paused
	active.state = readerStatePaused
	free.state = readerStateUnset
	free.rd = nil
	free.epoch = EpochNone
	l.in.active, l.in.paused = free, active

	return nil
}

// fetchAndRoute pulls the next record from the transport, unprotects
// it and feeds its payload into the appropriate reader slot.
func (l *Layer) fetchAndRoute() error { //nolint:cyclop
	rec, epochID, accept, err := l.fetchRecord()
	if err != nil {
		return l.handleFetchError(err)
	}

	l.observeVersion(rec.Version)

	if err := l.updateInCounter(epochID, rec.Seq, accept); err != nil {
		return l.fatalize(err)
	}

	if rec.Payload.DataLen == 0 && !l.conf.typeEmptyAllowed(rec.Type) {
		if l.mode == ModeDatagram {
			l.log.Tracef("dropping empty record of type %d", rec.Type)
			if err := l.provider.Skip(); err != nil {
				return mapTransportError(err)
			}

			return ErrWantRead
		}

		return l.fatalize(ErrInvalidRecord)
	}

	plain := rec.Payload.Data()

	// A paused stream of the same type resumes with this record.
	if l.mode == ModeStream && l.in.paused.state == readerStatePaused &&
		l.in.paused.typ == rec.Type {
		if l.in.paused.epoch != epochID {
			return l.fatalize(ErrInvalidRecord)
		}

		err := l.in.paused.rd.Feed(plain)
		switch {
		case errors.Is(err, reader.ErrNeedMore):
			// Swallowed into the accumulator, still not enough to
			// serve the outstanding request.
			if cerr := l.provider.Consume(); cerr != nil {
				return mapTransportError(cerr)
			}

			return ErrWantRead
		case errors.Is(err, reader.ErrAccumulatorTooSmall):
			return l.fatalize(ErrNeedAccumulator)
		case err != nil:
			return err
		}

		l.log.Tracef("resuming paused type %d", rec.Type)
		resumed := l.in.paused
		resumed.state = readerStateInternal
		l.in.active, l.in.paused = resumed, l.in.active

		return nil
	}

	// Fresh stream: the active slot is free at this point.
	slot := l.in.active
	var acc []byte
	if l.mode == ModeStream && l.conf.typePausable(rec.Type) {
		if l.in.paused.state != readerStateUnset {
			// Only one content type may have an unfinished message.
			return l.fatalize(ErrCannotPause)
		}
		acc = l.in.accumulator
	}

	slot.rd = reader.New(acc)
	slot.typ = rec.Type
	slot.epoch = epochID
	if err := slot.rd.Feed(plain); err != nil {
		return err
	}
	slot.state = readerStateInternal

	return nil
}

// handleFetchError sorts a failed fetch into silent datagram drops,
// stream fatalities and plain retry signals.
func (l *Layer) handleFetchError(err error) error {
	authFailed := errors.Is(err, transform.ErrAuthFailed)

	if l.mode == ModeDatagram &&
		(authFailed || errors.Is(err, ErrInvalidRecord) || errors.Is(err, errReplayedRecord)) {
		if authFailed {
			l.in.badMACCount++
			l.log.Debugf("record failed authentication (%d so far)", l.in.badMACCount)
			if l.conf.badMACLimit > 0 && l.in.badMACCount > l.conf.badMACLimit {
				return l.fatalize(ErrInvalidMAC)
			}
		} else {
			l.log.Debugf("dropping invalid record: %v", err)
		}

		// The rest of the datagram cannot be trusted either.
		if serr := l.provider.Skip(); serr != nil {
			return mapTransportError(serr)
		}

		return ErrWantRead
	}

	if authFailed {
		if l.conf.discardUnauthenticated {
			l.log.Debugf("discarding unauthenticated record")
			if cerr := l.provider.Consume(); cerr != nil {
				return mapTransportError(cerr)
			}

			return ErrWantRead
		}

		return l.fatalize(ErrInvalidMAC)
	}

	if errors.Is(err, ErrInvalidRecord) {
		return l.fatalize(ErrInvalidRecord)
	}

	return mapTransportError(err)
}

// fetchRecord reads and unprotects the next record.
func (l *Layer) fetchRecord() (*transform.Record, EpochID, func(), error) {
	if l.mode == ModeDatagram {
		return l.fetchRecordDatagram()
	}

	return l.fetchRecordStream()
}

func (l *Layer) fetchRecordStream() (*transform.Record, EpochID, func(), error) {
	if l.epochs.defaultIn < 0 {
		return nil, EpochNone, nil, ErrInvalidEpoch
	}

	hdrBuf, err := l.provider.Fetch(recordlayer.StreamHeaderSize)
	if err != nil {
		return nil, EpochNone, nil, err
	}

	hdr := recordlayer.Header{}
	if err := hdr.Unmarshal(hdrBuf); err != nil {
		return nil, EpochNone, nil, ErrInvalidRecord
	}
	if !l.conf.typeRegistered(hdr.ContentType) {
		return nil, EpochNone, nil, ErrInvalidRecord
	}
	if err := l.checkVersion(hdr.Version); err != nil {
		return nil, EpochNone, nil, err
	}
	if int(hdr.ContentLen) > l.conf.maxCiphertextIn {
		return nil, EpochNone, nil, ErrInvalidRecord
	}

	full, err := l.provider.Fetch(recordlayer.StreamHeaderSize + int(hdr.ContentLen))
	if err != nil {
		return nil, EpochNone, nil, err
	}

	epochID := l.epochs.base + EpochID(l.epochs.defaultIn)
	entry := l.epochs.window[l.epochs.defaultIn]

	rec := &transform.Record{
		Type:    hdr.ContentType,
		Version: hdr.Version,
		Epoch:   uint16(epochID),
		Seq:     entry.inSeq,
		Payload: transform.Payload{
			Buf:     full[recordlayer.StreamHeaderSize:],
			DataLen: int(hdr.ContentLen),
		},
	}

	if err := l.decryptRecord(entry, rec); err != nil {
		return nil, EpochNone, nil, err
	}

	return rec, epochID, nil, nil
}

func (l *Layer) fetchRecordDatagram() (*transform.Record, EpochID, func(), error) { //nolint:cyclop
	hdrBuf, err := l.provider.Fetch(recordlayer.DatagramHeaderSize)
	if err != nil {
		if errors.Is(err, transport.ErrOutOfBounds) {
			return nil, EpochNone, nil, ErrInvalidRecord
		}

		return nil, EpochNone, nil, err
	}

	hdr := recordlayer.Header{Datagram: true}
	if err := hdr.Unmarshal(hdrBuf); err != nil {
		return nil, EpochNone, nil, ErrInvalidRecord
	}
	if !l.conf.typeRegistered(hdr.ContentType) {
		return nil, EpochNone, nil, ErrInvalidRecord
	}
	if err := l.checkVersion(hdr.Version); err != nil {
		return nil, EpochNone, nil, err
	}

	epochID := EpochID(hdr.Epoch)
	if err := l.epochCheck(epochID, EpochRead); err != nil {
		return nil, EpochNone, nil, ErrInvalidRecord
	}
	entry, err := l.epochs.lookup(epochID)
	if err != nil {
		return nil, EpochNone, nil, ErrInvalidRecord
	}

	var accept func()
	if entry.replay != nil {
		a, ok := entry.replay.Check(hdr.SequenceNumber)
		if !ok {
			return nil, EpochNone, nil, errReplayedRecord
		}
		accept = func() { a() }
	}

	if int(hdr.ContentLen) > l.conf.maxCiphertextIn {
		return nil, EpochNone, nil, ErrInvalidRecord
	}

	full, err := l.provider.Fetch(recordlayer.DatagramHeaderSize + int(hdr.ContentLen))
	if err != nil {
		if errors.Is(err, transport.ErrOutOfBounds) {
			// The record claims more data than the datagram holds.
			return nil, EpochNone, nil, ErrInvalidRecord
		}

		return nil, EpochNone, nil, err
	}

	rec := &transform.Record{
		Type:    hdr.ContentType,
		Version: hdr.Version,
		Epoch:   hdr.Epoch,
		Seq:     hdr.SequenceNumber,
		Payload: transform.Payload{
			Buf:     full[recordlayer.DatagramHeaderSize:],
			DataLen: int(hdr.ContentLen),
		},
	}

	if err := l.decryptRecord(entry, rec); err != nil {
		return nil, EpochNone, nil, err
	}

	return rec, epochID, accept, nil
}

// decryptRecord unprotects rec under the epoch's transform and
// validates the resulting plaintext length.
func (l *Layer) decryptRecord(entry *epoch, rec *transform.Record) error {
	if err := transform.Decrypt(entry.transform, rec); err != nil {
		if errors.Is(err, transform.ErrAuthFailed) {
			return err
		}

		return ErrInvalidRecord
	}
	if rec.Payload.DataLen > l.conf.maxPlaintextIn {
		return ErrInvalidRecord
	}

	return nil
}
