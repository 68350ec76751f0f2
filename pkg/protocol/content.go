// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package protocol

// ContentType identifies the kind of data a record carries.
//
// https://tools.ietf.org/html/rfc4346#section-6.2.1
type ContentType uint8

// ContentType enums.
const (
	ContentTypeNone             ContentType = 0
	ContentTypeChangeCipherSpec ContentType = 20
	ContentTypeAlert            ContentType = 21
	ContentTypeHandshake        ContentType = 22
	ContentTypeApplicationData  ContentType = 23
	ContentTypeAck              ContentType = 25
)

// MaxContentType bounds the range of content types that can be
// registered with a record layer. Values outside [0, MaxContentType]
// are rejected outright.
const MaxContentType ContentType = 31

// Valid reports whether t lies in the representable content-type range.
func (t ContentType) Valid() bool {
	return t <= MaxContentType
}

func (t ContentType) String() string {
	switch t {
	case ContentTypeChangeCipherSpec:
		return "ChangeCipherSpec"
	case ContentTypeAlert:
		return "Alert"
	case ContentTypeHandshake:
		return "Handshake"
	case ContentTypeApplicationData:
		return "ApplicationData"
	case ContentTypeAck:
		return "Ack"
	default:
		return "Unknown ContentType"
	}
}
