// Package audit records access decisions and access-control mutations.
//
// Events are written through a Sink. The service composes a DBSink (durable,
// queryable by tenant) with a LogSink (structured logrus line) using MultiSink:
//
//	sink := audit.NewMultiSink(audit.NewDBSink(db), audit.NewLogSink(log))
//	handler = audit.NewMiddleware(sink).Handler(handler)
//
// Handlers and collaborators then record through the request context:
//
//	event := audit.NewEvent(ctx, audit.EventTypeMembershipSuspend, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeMembership
//	event.ResourceID = membership.ID
//	audit.FromContext(ctx).Record(ctx, event)
//
// Recording failures never fail the audited operation; callers log and move on.
package audit
