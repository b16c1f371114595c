// Package errors provides small error-handling helpers shared by the inspector.
package errors

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes an io.Closer and logs a failure instead of dropping it.
// Intended for defer statements.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// Must panics if err is not nil.
// Use only for initialization code where failure should halt the program.
func Must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}

// Unreachable panics with a formatted message. It marks the fallthrough of a
// switch over a closed set of values; reaching it means the set and the
// switch have drifted apart.
func Unreachable(format string, args ...any) {
	panic("unreachable: " + fmt.Sprintf(format, args...))
}
