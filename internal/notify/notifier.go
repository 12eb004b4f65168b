// Package notify is the thin boundary to the messaging gateway. Delivery is
// fire-and-forget from the engines' perspective: a failed send is reported,
// never retried here, and never rolls back a committed state change.
package notify

import "context"

// Choice is one tappable option; the gateway routes the token back to the
// matching core handler when the user picks it.
type Choice struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

type Message struct {
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

// Notifier delivers a message to a recipient's contact channel.
type Notifier interface {
	Notify(ctx context.Context, recipient string, msg Message) error
}
