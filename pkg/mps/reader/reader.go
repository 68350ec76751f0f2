// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package reader implements the incoming half of the MPS buffering
// primitives: a datagram-to-stream converter that accepts input in
// producer-sized fragments and serves it back as contiguous spans of
// consumer-chosen length.
//
// The reader alternates between two modes. In producing mode it owns no
// fragment; Feed attaches one and moves it to consuming mode. In
// consuming mode, Get hands out spans, Commit marks everything fetched
// so far as processed, and Reclaim detaches the fragment, deciding
// whether the reader ends up idle, holds unread record data, or pauses
// with a backlog copied into the caller-provided accumulator.
package reader

import "errors"

var (
	// ErrOutOfData signals a read request that cannot be served from
	// the data currently available. The reader is left intact.
	ErrOutOfData = errors.New("not enough data available in reader")
	// ErrDataLeft signals a reclaim attempt while fetched-and-committed
	// processing has not reached the end of the available data.
	ErrDataLeft = errors.New("uncommitted data left in reader")
	// ErrNeedMore signals that a fragment fed to a paused reader was
	// swallowed into the accumulator but is still not sufficient to
	// serve the outstanding read request.
	ErrNeedMore = errors.New("fed data insufficient to resume reader")
	// ErrNeedAccumulator signals a pausing reclaim on a reader that has
	// no accumulator to back up the unprocessed data.
	ErrNeedAccumulator = errors.New("reader needs an accumulator to pause")
	// ErrAccumulatorTooSmall signals that the unprocessed backlog does
	// not fit the reader's accumulator.
	ErrAccumulatorTooSmall = errors.New("reader accumulator too small")
	// ErrUnexpectedOperation signals a call that is not legal in the
	// reader's current mode.
	ErrUnexpectedOperation = errors.New("unexpected reader operation")
)

// Reader collects fragments of incoming data and serves them back as
// contiguous spans. The zero value is not usable; use New.
type Reader struct {
	frag []byte // fragment under management; nil in producing mode

	// Logical offsets into the concatenation of the accumulator
	// backlog and the current fragment. Bytes in [0, commit) are
	// processed, [commit, end) are fetched but revocable, [end, ...)
	// are unread.
	commit int
	end    int

	// pending is the shortfall of the last failed exact Get. A paused
	// reader keeps accumulating fragments until the shortfall is
	// covered.
	pending int

	acc      []byte // caller-owned accumulator, nil if pausing is unsupported
	accAvail int    // backlog bytes currently held in acc
}

// New creates a Reader. The accumulator acc may be nil, in which case
// the reader cannot pause: any reclaim with unprocessed data beyond a
// record boundary fails with ErrNeedAccumulator.
func New(acc []byte) *Reader {
	return &Reader{acc: acc}
}

// Feed hands a fragment over to the reader, moving it to consuming
// mode. If the reader is paused and the outstanding request shortfall
// is not covered by the backlog plus frag, the fragment is copied into
// the accumulator and ErrNeedMore is returned; the caller must feed
// further fragments before the reader can serve again.
func (r *Reader) Feed(frag []byte) error {
	if r.frag != nil {
		return ErrUnexpectedOperation
	}
	if frag == nil {
		frag = []byte{}
	}

	if r.pending > len(frag) {
		// Not enough to serve the request that caused the pause.
		// Swallow the fragment into the accumulator and stay paused.
		if r.accAvail+len(frag) > len(r.acc) {
			return ErrAccumulatorTooSmall
		}
		copy(r.acc[r.accAvail:], frag)
		r.accAvail += len(frag)
		r.pending -= len(frag)

		return ErrNeedMore
	}

	r.frag = frag
	r.pending = 0
	r.commit = 0
	r.end = 0

	return nil
}

// available returns the number of unread bytes in the logical stream.
func (r *Reader) available() int {
	return r.accAvail + len(r.frag) - r.end
}

// Get returns a contiguous span of exactly desired bytes starting at
// the current read position, advancing it. If the data available is
// insufficient, ErrOutOfData is returned and the reader records the
// shortfall so that a subsequent pause knows how much data to gather
// before resuming.
func (r *Reader) Get(desired int) ([]byte, error) {
	if r.frag == nil {
		return nil, ErrUnexpectedOperation
	}
	if avail := r.available(); desired > avail {
		r.pending = desired - avail

		return nil, ErrOutOfData
	}

	return r.serve(desired)
}

// GetUpTo returns a span of at most desired bytes, advancing the read
// position by its length. It fails with ErrOutOfData only if no data is
// available at all.
func (r *Reader) GetUpTo(desired int) ([]byte, error) {
	if r.frag == nil {
		return nil, ErrUnexpectedOperation
	}
	avail := r.available()
	if avail == 0 && desired > 0 {
		r.pending = desired

		return nil, ErrOutOfData
	}
	if desired > avail {
		desired = avail
	}

	return r.serve(desired)
}

// serve assumes desired <= available and produces the span, splicing
// across the accumulator/fragment boundary when necessary.
func (r *Reader) serve(desired int) ([]byte, error) {
	start := r.end
	r.end += desired

	if start >= r.accAvail {
		// Entirely within the fragment: zero copy.
		off := start - r.accAvail

		return r.frag[off : off+desired], nil
	}
	if r.end <= r.accAvail {
		// Entirely within the backlog.
		return r.acc[start:r.end], nil
	}

	// The span crosses the boundary: extend the backlog with the
	// fragment prefix so the span is contiguous starting at acc.
	need := r.end - r.accAvail
	if r.accAvail+need > len(r.acc) {
		r.end = start

		return nil, ErrAccumulatorTooSmall
	}
	copy(r.acc[r.accAvail:], r.frag[:need])

	return r.acc[start:r.end], nil
}

// Commit marks all data fetched so far as fully processed. The spans
// previously obtained from Get must not be used afterwards.
func (r *Reader) Commit() error {
	if r.frag == nil {
		return ErrUnexpectedOperation
	}
	r.commit = r.end
	r.pending = 0

	return nil
}

// Reclaim revokes the reader's access to the current fragment.
//
// If all data has been processed the reader returns to the idle
// producing state and paused is false. If data beyond the commit mark
// has been fetched, or a previous exact Get came up short, the
// unprocessed tail [commit, end-of-stream) is backed up into the
// accumulator and paused is true. If unread data remains but nothing
// beyond the commit mark was requested, ErrDataLeft is returned and the
// reader keeps the fragment: the record holds further messages that the
// consumer has not asked for yet.
func (r *Reader) Reclaim() (paused bool, err error) {
	if r.frag == nil {
		return false, ErrUnexpectedOperation
	}

	total := r.accAvail + len(r.frag)
	switch {
	case r.commit == total && r.pending == 0:
		r.frag = nil
		r.commit, r.end, r.accAvail, r.pending = 0, 0, 0, 0

		return false, nil

	case r.pending == 0 && r.commit == r.end:
		return false, ErrDataLeft
	}

	// Pause: back up [commit, total) into the accumulator.
	if r.acc == nil {
		return false, ErrNeedAccumulator
	}
	backlog := total - r.commit
	if backlog > len(r.acc) {
		return false, ErrAccumulatorTooSmall
	}

	if r.commit < r.accAvail {
		copy(r.acc, r.acc[r.commit:r.accAvail])
		copy(r.acc[r.accAvail-r.commit:], r.frag)
	} else {
		copy(r.acc, r.frag[r.commit-r.accAvail:])
	}

	r.accAvail = backlog
	r.frag = nil
	r.commit, r.end = 0, 0

	return true, nil
}

// Available returns the number of unread bytes currently reachable.
func (r *Reader) Available() int {
	if r.frag == nil {
		return r.accAvail
	}

	return r.available()
}
