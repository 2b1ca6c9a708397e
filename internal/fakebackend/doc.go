// ABOUTME: Package fakebackend is an in-memory seller backend for tests and local runs
// ABOUTME: It serves the chat REST API and the /ws/chat live feed

// Package fakebackend implements enough of the seller backend to drive the
// workbench end to end: accounts, derived sessions, buyer history, sending,
// mark-read, buyers, quick replies, item bindings and delivery rules over
// REST, plus the live feed on /ws/chat and /ws/chat/{cookie_id}.
//
// Live frames fan out through a Hub. A frame published for an account
// reaches that account's subscribers and every global subscriber. Tests
// inject buyer traffic with Server.InjectBuyerMessage and simulate dropped
// connections with Hub.Kick.
package fakebackend
