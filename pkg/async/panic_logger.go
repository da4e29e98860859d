package async

import (
	"fmt"
	"runtime/debug"

	"github.com/tryfix/log"
)

// RecoverPanic must be deferred. A recovered panic is logged with its stack trace and handed to
// onPanic as an error.
func RecoverPanic(logger log.Logger, onPanic func(err error)) {
	if r := recover(); r != nil {
		logger.Error(fmt.Sprintf(`Recovered from panic %v`, r), string(debug.Stack()))
		onPanic(fmt.Errorf(`panic: %v`, r))
	}
}
