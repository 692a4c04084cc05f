// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package transport

import "errors"

// Sentinel errors for gateway connection failures.
var (
	// ErrNotConnected is returned when the client has no open connection.
	ErrNotConnected = errors.New("not connected to gateway")

	// ErrRejected is returned when the gateway answers a request with an
	// error frame.
	ErrRejected = errors.New("gateway rejected request")
)
