package constants

import "time"

// Connection timing constants
const (
	// ConnectionStaggerDelay is the delay between each network connection attempt
	ConnectionStaggerDelay = 500 * time.Millisecond

	// ReconnectBaseDelay is the first delay of the reconnect backoff
	ReconnectBaseDelay = 2 * time.Second

	// ReconnectMaxDelay caps the reconnect backoff
	ReconnectMaxDelay = 5 * time.Minute

	// RegistrationTimeout bounds the wait for RPL_WELCOME after connecting
	RegistrationTimeout = 60 * time.Second

	// IdleTimeout is how long the server may stay silent before we probe it with PING
	IdleTimeout = 3 * time.Minute

	// DialTimeout bounds TCP/TLS connection setup
	DialTimeout = 30 * time.Second

	// FloodDelay spaces normal outbound lines to stay under server flood limits
	FloodDelay = 1 * time.Second
)

// Protocol limits
const (
	// MaxLineLength is the IRC line limit including the trailing CRLF
	MaxLineLength = 512

	// SourceReserve is room left for the ":nick!user@host " prefix the server
	// prepends when relaying our messages
	SourceReserve = 100

	// MaxNickAttempts is how many alternate nicknames are tried on collision
	MaxNickAttempts = 5

	// ReadBufferSize and MaxReadQ size the line reader buffer
	ReadBufferSize = 1024
	MaxReadQ       = 16 * 1024
)

// List session constants
const (
	// ListTimeout is the deadline for a complete RPL_LIST stream
	ListTimeout = 90 * time.Second

	// ListQueueCapacity is how many list requests may wait behind the active one
	ListQueueCapacity = 3

	// ListDrainGrace bounds how long the next LIST waits for the end of a
	// timed-out listing
	ListDrainGrace = 30 * time.Second
)
