package irc

// Event types published on the event bus
const (
	EventConnectionState  = "connection.state"
	EventConnectionFailed = "connection.failed"
	EventNickChanged      = "nick.changed"
	EventRequestCompleted = "request.completed"
)
