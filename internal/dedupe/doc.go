// Package dedupe drops repeated live feed frames.
//
// The backend may deliver the same new_message frame twice, for example to an
// account-scoped and a global subscriber, or around a reconnect. The
// reconciler fingerprints each frame and merges it only the first time it is
// seen within the TTL window.
package dedupe
