package transport

import "sync/atomic"

// ChannelAuth tracks whether an inbound stream has presented the shared
// secret. Streams without a configured secret are always authenticated,
// matching spec.md §4.B: auth only gates traffic when a secret exists.
type ChannelAuth struct {
	required bool
	secret   uint64
	ok       atomic.Bool
}

func NewChannelAuth(secret uint64, required bool) *ChannelAuth {
	ca := &ChannelAuth{required: required, secret: secret}
	if !required {
		ca.ok.Store(true)
	}
	return ca
}

// Authenticate records an AuthenticateChannel attempt and reports
// success.
func (ca *ChannelAuth) Authenticate(presented uint64) bool {
	if presented == ca.secret {
		ca.ok.Store(true)
		return true
	}
	return false
}

// Authorized reports whether this stream may process non-auth
// messages.
func (ca *ChannelAuth) Authorized() bool { return ca.ok.Load() }
