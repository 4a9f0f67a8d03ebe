package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes fn in a goroutine with panic recovery, a timeout and error
// logging. The task keeps the values of parentCtx but not its cancellation, so
// work started from a request handler survives the response being written.
//
// Example:
//
//	SafeGo(r.Context(), log, 5*time.Second, "audit access decision", func(ctx context.Context) error {
//	    return sink.Record(ctx, event)
//	})
func SafeGo(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	base := context.WithoutCancel(parentCtx)

	go func() {
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}
