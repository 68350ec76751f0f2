// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package mps

import (
	"fmt"
	"io"

	"github.com/pion/mps/pkg/transform"
)

// closeTrackingTransform is an identity transform that records whether
// it was closed.
type closeTrackingTransform struct {
	closed bool
}

func (*closeTrackingTransform) Encrypt(rec *transform.Record, _ io.Reader) error {
	p := &rec.Payload
	if p.DataOffset != 0 {
		copy(p.Buf, p.Data())
		p.DataOffset = 0
	}

	return nil
}

func (*closeTrackingTransform) Decrypt(*transform.Record) error { return nil }

func (*closeTrackingTransform) Expansion() (int, int) { return 0, 0 }

func (c *closeTrackingTransform) Close() error {
	c.closed = true

	return nil
}

// authFailTransform rejects every incoming record as unauthenticated.
type authFailTransform struct {
	closeTrackingTransform
}

func (*authFailTransform) Decrypt(*transform.Record) error {
	return fmt.Errorf("%w: tag mismatch", transform.ErrAuthFailed)
}
