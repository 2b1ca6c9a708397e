// Package api is the REST client for the seller backend.
//
// Every call carries the bearer token, an X-Request-ID header, and a
// client-side timeout (15s unless configured). Responses with an HTTP error
// status, or with "success": false in the body, are returned as *Error:
//
//	var apiErr *api.Error
//	if errors.As(err, &apiErr) {
//	    log.Printf("backend said %d: %s", apiErr.Status, apiErr.Message)
//	}
//
// The history endpoint is scoped to a buyer, not to a (buyer, item) session;
// callers that need one session's timeline filter the page by item id.
package api
