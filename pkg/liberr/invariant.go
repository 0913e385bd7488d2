package liberr

import (
	"fmt"

	"github.com/prismon/photo-library/pkg/logger"
)

var log = logger.WithName("invariant")

// InvariantError reports an internal consistency violation
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

// Invariant reports a broken internal invariant. Debug builds panic; other builds
// log the violation and return it so the caller can abandon the operation.
func Invariant(format string, args ...any) error {
	err := &InvariantError{Msg: fmt.Sprintf(format, args...)}
	if debugBuild {
		panic(err)
	}
	log.WithError(err).Error("Abandoning operation")
	return err
}
