// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mps

import (
	"errors"

	"github.com/pion/mps/pkg/mps/writer"
	"github.com/pion/mps/pkg/protocol"
	"github.com/pion/mps/pkg/protocol/recordlayer"
	"github.com/pion/mps/pkg/transform"
)

// errKeepRecordOpen is the internal signal that a reclaimed record
// still has room and its type allows merging further messages into it.
var errKeepRecordOpen = errors.New("record kept open for merging") //nolint:err113

// WriteStart opens an outgoing record of the given content type and
// epoch and exposes a writer to fill it. If a record of the same type
// and epoch is already open and undelivered, the writer appends to it;
// a mismatching open record is dispatched first.
//
// While earlier data is queued or a flush is outstanding, WriteStart
// works those obligations off first and may return ErrWantWrite.
func (l *Layer) WriteStart(typ protocol.ContentType, epochID EpochID) (*Outbound, error) {
	if err := l.poisoned(); err != nil {
		return nil, err
	}
	if l.conf.stateValidation && l.out.state == writerStateExternal {
		return nil, ErrUnexpectedOperation
	}

	if !l.conf.typeRegistered(typ) {
		return nil, ErrInvalidArgs
	}
	if err := l.epochCheck(epochID, EpochWrite); err != nil {
		return nil, err
	}

	// Nothing may be queued for dispatch, and a requested flush must
	// have completed, before a new record can be opened.
	if err := l.clearPending(); err != nil {
		return nil, err
	}

	if l.out.state == writerStateInternal {
		if l.out.typ == typ && l.out.epoch == epochID {
			l.log.Tracef("appending to open record, type %d epoch %d", typ, epochID)
			l.out.state = writerStateExternal

			return &Outbound{Type: typ, Epoch: epochID, Writer: l.out.wr}, nil
		}

		if err := l.releaseAndDispatch(true); err != nil {
			return nil, err
		}
	}

	if err := l.prepareRecord(epochID); err != nil {
		return nil, err
	}
	l.out.typ = typ
	l.out.epoch = epochID

	if err := l.trackRecord(); err != nil {
		return nil, err
	}
	l.out.state = writerStateExternal

	return &Outbound{Type: typ, Epoch: epochID, Writer: l.out.wr}, nil
}

// WriteDone finalises the record opened by WriteStart. Records of
// mergeable types with space left stay open so the next WriteStart of
// the same type can extend them; everything else is dispatched. Data
// committed beyond the record's capacity is queued and delivered by
// subsequent writes or a flush.
func (l *Layer) WriteDone() error {
	if err := l.poisoned(); err != nil {
		return err
	}
	if l.conf.stateValidation && l.out.state != writerStateExternal {
		return ErrUnexpectedOperation
	}

	l.out.state = writerStateInternal

	return l.releaseAndDispatch(false)
}

// Flush requests that all data written so far reaches the transport.
// On ErrWantWrite the flush stays pending and the call can be retried.
func (l *Layer) Flush() error {
	if err := l.poisoned(); err != nil {
		return err
	}
	if l.conf.stateValidation && l.out.state == writerStateExternal {
		return ErrUnexpectedOperation
	}

	l.out.flush = true

	return l.clearPending()
}

// clearPending drives the flush and clearing obligations: it drains
// queued writer data into records, dispatches an open record if a
// flush was requested, and completes the transport flush.
func (l *Layer) clearPending() error { //nolint:cyclop
	if l.out.clearing {
		if err := l.provider.Flush(); err != nil {
			return mapTransportError(err)
		}
		l.out.clearing = false
	}

	// Each iteration strictly shrinks the queue, so the loop ends.
	for l.out.state == writerStateQueueing {
		if err := l.prepareRecord(l.out.epoch); err != nil {
			return err
		}

		err := l.trackRecord()
		if err == nil {
			break
		}
		if !errors.Is(err, writer.ErrNeedMore) {
			return err
		}

		// The record was filled entirely with queued data.
		l.log.Tracef("dispatching record of queued data, type %d", l.out.typ)
		if err := l.dispatchRecord(); err != nil {
			return err
		}
	}

	if l.out.flush {
		if l.out.state == writerStateInternal {
			if err := l.releaseAndDispatch(true); err != nil {
				return err
			}
		}
		l.out.clearing = true
		l.out.flush = false
	}

	if l.out.clearing {
		if err := l.provider.Flush(); err != nil {
			return mapTransportError(err)
		}
		l.out.clearing = false
	}

	return nil
}

// prepareRecord obtains a write buffer from the transport and splits it
// into header and payload regions such that after encryption the
// ciphertext sits flush against the header.
func (l *Layer) prepareRecord(epochID EpochID) error {
	entry, err := l.epochs.lookup(epochID)
	if err != nil {
		return err
	}

	hdrLen := l.headerSize()
	pre, post := transform.Expansion(entry.transform)

	buf, err := l.provider.Write(hdrLen + pre + post + 1)
	if err != nil {
		// No room for even a 1-byte record. Abort the write and
		// remember to flush before the next attempt.
		if l.provider.Pending() == 0 {
			return ErrBufferTooSmall
		}
		l.out.clearing = true

		return ErrWantWrite
	}

	dataLen := len(buf) - hdrLen - pre - post
	if dataLen > l.conf.maxPlaintextOut {
		dataLen = l.conf.maxPlaintextOut
	}

	l.out.hdr = buf[:hdrLen]
	l.out.payload = transform.Payload{
		Buf:        buf[hdrLen:],
		DataOffset: pre,
		DataLen:    dataLen,
	}

	return nil
}

// trackRecord binds the writer to the prepared payload region.
// Pausable types get the overflow queue; everything else must fit the
// record.
func (l *Layer) trackRecord() error {
	if l.out.state == writerStateUnset {
		var queue []byte
		if l.mode == ModeStream && l.conf.typePausable(l.out.typ) {
			queue = l.out.queue
		}
		l.out.wr = writer.New(queue)
	}

	p := &l.out.payload
	if err := l.out.wr.Feed(p.Buf[p.DataOffset : p.DataOffset+p.DataLen]); err != nil {
		return err
	}
	l.out.state = writerStateInternal

	return nil
}

// releaseRecord revokes the writer's access to the record buffer. With
// force unset, a mergeable record with room left is kept open and
// errKeepRecordOpen returned.
func (l *Layer) releaseRecord(force bool) error {
	written, queued, err := l.out.wr.Reclaim(force)
	if errors.Is(err, writer.ErrDataLeft) && !force {
		if l.conf.typeMergeable(l.out.typ) {
			return errKeepRecordOpen
		}

		written, queued, err = l.out.wr.Reclaim(true)
	}
	if err != nil {
		return err
	}

	if queued > 0 {
		if !l.conf.typePausable(l.out.typ) {
			return l.fatalize(ErrCannotPause)
		}
		l.log.Tracef("%d bytes of type %d queued for later records", queued, l.out.typ)
		l.out.state = writerStateQueueing
	} else {
		l.out.wr = nil
		l.out.state = writerStateUnset
	}

	l.out.payload.DataLen = written

	return nil
}

// releaseAndDispatch releases the writer and, unless the record was
// kept open for merging, protects and delivers it.
func (l *Layer) releaseAndDispatch(force bool) error {
	err := l.releaseRecord(force)
	if errors.Is(err, errKeepRecordOpen) {
		l.log.Tracef("record not yet dispatched, awaiting merge")

		return nil
	}
	if err != nil {
		return err
	}

	return l.dispatchRecord()
}

// dispatchRecord protects the finished record, writes its header and
// hands it to the transport. Empty records of types that do not allow
// them are silently ignored.
func (l *Layer) dispatchRecord() error { //nolint:cyclop
	if l.out.payload.DataLen == 0 && !l.conf.typeEmptyAllowed(l.out.typ) {
		l.log.Tracef("ignoring empty record of type %d", l.out.typ)
		if err := l.provider.Dispatch(0); err != nil {
			return mapTransportError(err)
		}

		return l.epochCleanup()
	}

	entry, err := l.epochs.lookup(l.out.epoch)
	if err != nil {
		return err
	}
	seq, err := l.nextOutSeq(l.out.epoch)
	if err != nil {
		return l.fatalize(err)
	}

	rec := transform.Record{
		Type:    l.out.typ,
		Version: l.wireVersion(),
		Epoch:   uint16(l.out.epoch),
		Seq:     seq,
		Payload: l.out.payload,
	}

	if err := transform.Encrypt(entry.transform, &rec, l.conf.rand); err != nil {
		return err
	}
	if rec.Payload.DataOffset != 0 {
		return ErrBufferTooSmall
	}

	hdr := recordlayer.Header{
		ContentType:    rec.Type,
		Version:        rec.Version,
		Epoch:          uint16(l.out.epoch),
		SequenceNumber: seq,
		ContentLen:     uint16(rec.Payload.DataLen),
		Datagram:       l.mode == ModeDatagram,
	}
	if err := hdr.MarshalTo(l.out.hdr); err != nil {
		return err
	}

	l.log.Tracef("dispatching record, type %d epoch %d seq %d length %d",
		rec.Type, l.out.epoch, seq, rec.Payload.DataLen)

	if err := l.provider.Dispatch(len(l.out.hdr) + rec.Payload.DataLen); err != nil {
		return mapTransportError(err)
	}

	l.out.hdr = nil
	l.out.payload = transform.Payload{}

	return l.epochCleanup()
}
