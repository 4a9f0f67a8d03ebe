// Package async provides safe background execution for fire-and-forget work
// such as audit delivery.
//
//	async.SafeGo(r.Context(), log, 5*time.Second, "audit", func(ctx context.Context) error {
//		return sink.Record(ctx, event)
//	})
//
// Panics are recovered and logged with a stack trace. Errors are logged at warn
// level and never propagate to the caller.
package async
