package ports

import "context"

// InjectFunc hands text received by a bridge to the relay. sender is the
// platform user name used to tag the text on the mesh.
type InjectFunc func(ctx context.Context, sender, text string) error

// Bridge connects the relay to a chat platform.
type Bridge interface {
	// Name identifies the bridge in logs.
	Name() string

	// Run receives messages until ctx is canceled, passing each to inject.
	Run(ctx context.Context, inject InjectFunc) error

	// Outbound posts text to the platform. The relay treats it as
	// fire-and-forget and only logs errors.
	Outbound(ctx context.Context, text string, channel uint8) error
}
