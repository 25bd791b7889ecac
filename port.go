// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ivsweep

import (
	"io"
	"time"
)

// Port models the byte stream a line-protocol controller talks over,
// typically a USB virtual COM port. The read deadline and input discard
// are the two capabilities the command protocol depends on; everything
// else is a plain stream. The driver/vcp package provides an
// implementation backed by go.bug.st/serial.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds every subsequent Read. A Read that hits the
	// deadline returns (0, nil), matching serial-port semantics.
	SetReadTimeout(d time.Duration) error

	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// Querier is the query/response link to a SCPI-style instrument, such
// as a GPIB controller-in-charge or a raw-socket LAN connection. One
// command or query is in flight at a time.
type Querier interface {
	// Command formats according to a format specifier if provided and
	// sends the resulting command to the instrument. No response is
	// read.
	Command(format string, a ...any) error

	// Query sends the given command and returns the instrument's
	// response line, without the trailing terminator.
	Query(cmd string) (string, error)
}
