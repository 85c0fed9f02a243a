package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic converts a panic into an error stored in *errp and logs the
// stack. Call it directly in a defer statement:
//
//	defer observability.RecoverPanic(log, "community indexer", &err)
func RecoverPanic(log *logrus.Logger, where string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	log.WithFields(logrus.Fields{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
	if errp != nil {
		*errp = fmt.Errorf("panic in %s: %v", where, r)
	}
}
