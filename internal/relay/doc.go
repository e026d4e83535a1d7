// Package relay keeps track of live WebSocket clients grouped by
// conversation id and fans messages out to every client of a conversation.
//
// Registry is the shared, process-wide index. It is constructed once at
// startup and handed to the WebSocket endpoint and to the message service.
// Socket adapts a gorilla connection to the Conn interface the registry
// works with: sends are queued and written by a dedicated goroutine, so a
// broadcast never blocks on a slow client.
//
// Registry operations never fail. Disconnect is idempotent because both the
// clean-close path and the fault path of an endpoint may reach it, and a
// broadcast removes and closes any member whose send fails.
package relay
