// Package feed is the live event connection to the seller backend.
//
// A Client holds at most one websocket connection, scoped to a single account
// (/ws/chat/{cookie_id}) or to every account (/ws/chat). While connected it
// sends {"type":"ping"} on a fixed interval. Inbound pong frames are
// swallowed, malformed frames are logged and dropped, and everything else is
// handed to the Handler in arrival order.
//
// When the connection drops the client waits a fixed delay (3s by default)
// and dials again. There is no backoff and no attempt limit.
//
//	c := feed.New(feed.Options{BaseURL: "ws://localhost:8080", Token: tok}, func(ev feed.Event) {
//	    if ev.Type == feed.TypeNewMessage {
//	        // ...
//	    }
//	})
//	c.Connect("acct-1")
//	defer c.Close()
package feed
