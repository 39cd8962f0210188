package email

import "context"

// Message is one outbound email.
type Message struct {
	FromEmail string
	FromName  string
	ToEmail   string
	Subject   string
	HTMLBody  string
}

// Sender delivers a single message through an email transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
