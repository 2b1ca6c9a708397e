// Package auth handles bearer credentials for the marketdesk workbench.
//
// LoadToken resolves the token from configuration, $MARKETDESK_TOKEN, a
// configured token file, or $XDG_CONFIG_HOME/marketdesk/token, in that
// order. InspectToken decodes the claims without the signing secret so the
// console can warn about an expired token before the first request fails.
//
// The token errors are shared with the fake backend, which signs and checks
// tokens itself.
package auth
