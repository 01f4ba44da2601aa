package core

// ChannelState is the connectivity of the signaling channel as seen by
// the coordinator.
type ChannelState int

const (
	ChannelConnected ChannelState = iota
	// ChannelReconnecting: the adapter is silently redialing. Outbound
	// sends fail fast instead of queuing.
	ChannelReconnecting
	// ChannelLost: no recovery path. The coordinator cancels the session.
	ChannelLost
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnected:
		return "connected"
	case ChannelReconnecting:
		return "reconnecting"
	case ChannelLost:
		return "lost"
	default:
		return "unknown"
	}
}

// SignalingChannel abstracts one duplex, per-pair-ordered message
// channel scoped to a session. Owned by the adapter; the adapter must
// Close() the underlying transport.
type SignalingChannel interface {
	// Send fails with ErrChannelClosed while the channel is not open.
	Send(Envelope) error
	// SetHandler registers the single inbound handler. Dispatch is
	// serialized: the handler never runs concurrently with itself.
	SetHandler(func(Envelope))
	// SetStateHandler registers the connectivity callback. It is invoked
	// from the same goroutine that dispatches envelopes.
	SetStateHandler(func(ChannelState))
	Close() error
}
