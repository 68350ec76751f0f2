// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package recordlayer implements the (D)TLS record framing
// https://tools.ietf.org/html/rfc5246#section-6
// https://tools.ietf.org/html/rfc6347#section-4.1
package recordlayer

import "errors"

var (
	// ErrBufferTooSmall signals a header that does not fit the given buffer.
	ErrBufferTooSmall = errors.New("buffer is too small")
	// ErrInvalidContentType signals a content type outside the representable range.
	ErrInvalidContentType = errors.New("invalid content type")
	// ErrSequenceNumberOverflow signals a sequence number exceeding 48 bits.
	ErrSequenceNumberOverflow = errors.New("sequence number overflow")
)
