package events

// Session is the controller-facing view of one live call on the
// telephony transport. Implementations translate these commands into
// provider wire messages; the dialog layers never see the connection.
type Session interface {
	// CallID returns the identifier the provider assigned this call.
	CallID() string

	// Configure selects voice and recognition parameters for the call.
	Configure(cfg SessionConfig) error

	// Say issues a composite speak(+listen) instruction.
	Say(req SayRequest) error

	// StreamText pushes a text chunk into the open synthesis channel.
	StreamText(text string) error

	// Flush starts audible playback of everything streamed so far.
	Flush() error

	// Hangup asks the provider to terminate the call.
	Hangup() error
}
