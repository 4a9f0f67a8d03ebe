// Package httputil provides HTTP helpers shared by the authorization service.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, decision)
//	httputil.WriteBadRequest(w, "resource is required")
//	httputil.WriteForbidden(w, decision.Reason)
//
// # Request Parsing
//
//	var req CheckRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
