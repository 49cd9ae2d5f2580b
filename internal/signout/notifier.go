package signout

import "context"

// Notifier delivers one sign-out notification to one relying party endpoint.
type Notifier interface {
	Notify(ctx context.Context, n *Notification, ep Endpoint) error
}
