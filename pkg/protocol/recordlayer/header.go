// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package recordlayer

import (
	"golang.org/x/crypto/cryptobyte"

	"github.com/pion/mps/pkg/protocol"
)

// Header sizes in bytes. The stream (TLS) header carries type, version
// and length; the datagram (DTLS) header additionally carries the epoch
// and the explicit 48-bit sequence number.
const (
	StreamHeaderSize   = 5
	DatagramHeaderSize = 13
)

// MaxSequenceNumber is the largest sequence number representable in the
// 48-bit wire field.
const MaxSequenceNumber = uint64(1)<<48 - 1

// Header is the decoded form of a (D)TLS record header.
//
//	struct {
//	     ContentType type;
//	     ProtocolVersion version;
//	     uint16 epoch;            // DTLS only
//	     uint48 sequence_number;  // DTLS only
//	     uint16 length;
//	   } RecordHeader;
type Header struct {
	ContentType    protocol.ContentType
	Version        protocol.Version
	Epoch          uint16
	SequenceNumber uint64 // uint48 on the wire, datagram only
	ContentLen     uint16

	// Datagram selects between the 5-byte stream form and the
	// 13-byte datagram form.
	Datagram bool
}

// Size returns the encoded length of the header.
func (h *Header) Size() int {
	if h.Datagram {
		return DatagramHeaderSize
	}

	return StreamHeaderSize
}

// MarshalTo encodes the header into the first Size() bytes of buf.
func (h *Header) MarshalTo(buf []byte) error {
	if len(buf) < h.Size() {
		return ErrBufferTooSmall
	}
	if h.SequenceNumber > MaxSequenceNumber {
		return ErrSequenceNumberOverflow
	}

	buf[0] = byte(h.ContentType)
	buf[1] = h.Version.Major
	buf[2] = h.Version.Minor
	if h.Datagram {
		buf[3] = byte(h.Epoch >> 8)
		buf[4] = byte(h.Epoch)
		for i := 0; i < 6; i++ {
			buf[5+i] = byte(h.SequenceNumber >> uint(40-8*i))
		}
		buf[11] = byte(h.ContentLen >> 8)
		buf[12] = byte(h.ContentLen)

		return nil
	}
	buf[3] = byte(h.ContentLen >> 8)
	buf[4] = byte(h.ContentLen)

	return nil
}

// Marshal encodes the header into a fresh buffer.
func (h *Header) Marshal() ([]byte, error) {
	buf := make([]byte, h.Size())
	if err := h.MarshalTo(buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// Unmarshal decodes a header from data. The expected form (stream or
// datagram) must be set on h before the call.
func (h *Header) Unmarshal(data []byte) error {
	s := cryptobyte.String(data)

	var typ uint8
	if !s.ReadUint8(&typ) ||
		!s.ReadUint8(&h.Version.Major) ||
		!s.ReadUint8(&h.Version.Minor) {
		return ErrBufferTooSmall
	}
	if !protocol.ContentType(typ).Valid() {
		return ErrInvalidContentType
	}
	h.ContentType = protocol.ContentType(typ)

	if h.Datagram {
		var seqHi uint16
		var seqLo uint32
		if !s.ReadUint16(&h.Epoch) || !s.ReadUint16(&seqHi) || !s.ReadUint32(&seqLo) {
			return ErrBufferTooSmall
		}
		h.SequenceNumber = uint64(seqHi)<<32 | uint64(seqLo)
	} else {
		h.Epoch = 0
		h.SequenceNumber = 0
	}

	if !s.ReadUint16(&h.ContentLen) {
		return ErrBufferTooSmall
	}

	return nil
}
