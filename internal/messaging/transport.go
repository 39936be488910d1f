package messaging

import "context"

// Transport delivers a payload to a user. Send returns an opaque message
// handle (the transport's message ID, or 0 when the transport has none)
// that callers may store to reference the sent message later.
//
// Failures are expected operational events: callers log them and never fail
// their primary operation on a delivery error.
type Transport interface {
	Send(ctx context.Context, userID int64, p Payload) (int, error)
}

// SendFunc adapts a function to the Transport interface (used by tests).
type SendFunc func(ctx context.Context, userID int64, p Payload) (int, error)

// Send implements Transport.
func (f SendFunc) Send(ctx context.Context, userID int64, p Payload) (int, error) {
	return f(ctx, userID, p)
}
