package core

import "errors"

var (
	// ErrInvalidTransition rejects an illegal session lifecycle call.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrChannelClosed is returned by Send while the signaling channel
	// is closed or reconnecting. Callers retry or surface it; it never
	// ends the session by itself.
	ErrChannelClosed = errors.New("signaling channel closed")
	// ErrNegotiationFailed demotes a single peer link, not the session.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrStaleConsent rejects a response to a resolved or unknown request.
	ErrStaleConsent = errors.New("stale consent request")
	// ErrMediaAcquisitionDenied means local camera/microphone access was
	// refused. The session stays where it was; retry is allowed.
	ErrMediaAcquisitionDenied = errors.New("media acquisition denied")
	// ErrRenegotiationRequired is reported by ReplaceVideoTrack when the
	// transport cannot swap tracks in place.
	ErrRenegotiationRequired = errors.New("renegotiation required")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)
