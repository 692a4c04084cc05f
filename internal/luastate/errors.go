// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package luastate

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ErrorKind classifies a failed evaluation.
type ErrorKind int

const (
	// KindCompile is malformed source. The VM stays usable.
	KindCompile ErrorKind = iota + 1
	// KindRuntime is an error raised by the script or by a host function.
	KindRuntime
	// KindConversion is a result value that could not be converted after the
	// chunk returned. The VM is rebuilt before the error is reported.
	KindConversion
	// KindRunaway is a chunk stopped by the interrupt ceiling.
	KindRunaway
	// KindModule is a require() that failed.
	KindModule
	// KindCancelled is a chunk unwound because its scheduler is stopping.
	KindCancelled
	// KindFatal leaves the session unusable.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindCompile:
		return "compile"
	case KindRuntime:
		return "runtime"
	case KindConversion:
		return "conversion"
	case KindRunaway:
		return "runaway"
	case KindModule:
		return "module"
	case KindCancelled:
		return "cancelled"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ErrRunaway aborts a chunk that passed the interrupt ceiling.
var ErrRunaway = errors.New("Possible infinite loop, terminated.")

// ScriptError is the last failure recorded by a Session.
type ScriptError struct {
	Kind    ErrorKind
	Desc    string
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}

// errorMessage returns the Lua error object's text without the traceback
// gopher-lua appends to ApiError.Error(), or the trailing newline of its
// compile errors.
func errorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return strings.TrimSpace(apiErr.Object.String())
	}
	return strings.TrimSpace(err.Error())
}
