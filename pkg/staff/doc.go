// Package staff manages tenant memberships and custom roles.
//
// Every successful change drops the affected entries from the authorization
// cache and records an audit event, so a suspended user loses access on the
// next check instead of when the cached membership expires.
//
//	svc := staff.NewService(store,
//		staff.WithInvalidator(reader),
//		staff.WithLogger(log),
//	)
//	m, err := svc.Suspend(ctx, tenantID, userID)
package staff
