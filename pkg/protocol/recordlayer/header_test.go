// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package recordlayer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pion/mps/pkg/protocol"
)

func TestHeaderRoundTrip(t *testing.T) {
	for _, test := range []struct {
		Name string
		Hdr  Header
		Raw  []byte
	}{
		{
			Name: "TLS application data",
			Hdr: Header{
				ContentType: protocol.ContentTypeApplicationData,
				Version:     protocol.VersionTLS12,
				ContentLen:  5,
			},
			Raw: []byte{0x17, 0x03, 0x03, 0x00, 0x05},
		},
		{
			Name: "TLS handshake",
			Hdr: Header{
				ContentType: protocol.ContentTypeHandshake,
				Version:     protocol.VersionTLS12,
				ContentLen:  4,
			},
			Raw: []byte{0x16, 0x03, 0x03, 0x00, 0x04},
		},
		{
			Name: "DTLS change cipher spec",
			Hdr: Header{
				ContentType:    protocol.ContentTypeChangeCipherSpec,
				Version:        protocol.VersionDTLS10,
				Epoch:          0,
				SequenceNumber: 0x12,
				ContentLen:     1,
				Datagram:       true,
			},
			Raw: []byte{0x14, 0xfe, 0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x12, 0x00, 0x01},
		},
		{
			Name: "DTLS high epoch and sequence",
			Hdr: Header{
				ContentType:    protocol.ContentTypeApplicationData,
				Version:        protocol.VersionDTLS12,
				Epoch:          0x0102,
				SequenceNumber: 0x030405060708,
				ContentLen:     0x0910,
				Datagram:       true,
			},
			Raw: []byte{0x17, 0xfe, 0xfd, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x10},
		},
	} {
		raw, err := test.Hdr.Marshal()
		assert.NoError(t, err, test.Name)
		assert.Equal(t, test.Raw, raw, test.Name)

		parsed := Header{Datagram: test.Hdr.Datagram}
		assert.NoError(t, parsed.Unmarshal(test.Raw), test.Name)
		assert.Equal(t, test.Hdr, parsed, test.Name)
	}
}

func TestHeaderUnmarshalErrors(t *testing.T) {
	short := Header{}
	assert.ErrorIs(t, short.Unmarshal([]byte{0x17, 0x03}), ErrBufferTooSmall)

	shortDgram := Header{Datagram: true}
	assert.ErrorIs(t, shortDgram.Unmarshal([]byte{0x17, 0xfe, 0xfd, 0x00, 0x00, 0x01}), ErrBufferTooSmall)

	badType := Header{}
	assert.ErrorIs(t, badType.Unmarshal([]byte{0xff, 0x03, 0x03, 0x00, 0x00}), ErrInvalidContentType)
}

func TestHeaderMarshalErrors(t *testing.T) {
	overflow := Header{
		ContentType:    protocol.ContentTypeApplicationData,
		Version:        protocol.VersionDTLS12,
		SequenceNumber: MaxSequenceNumber + 1,
		Datagram:       true,
	}
	_, err := overflow.Marshal()
	assert.ErrorIs(t, err, ErrSequenceNumberOverflow)

	ok := Header{ContentType: protocol.ContentTypeAlert, Version: protocol.VersionTLS12}
	assert.ErrorIs(t, ok.MarshalTo(make([]byte, 4)), ErrBufferTooSmall)
}
