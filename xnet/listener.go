package xnet

// Listener receives the outcome of messages handed to a bus controller.
//
// Callbacks are delivered from the controller's dispatcher goroutine in the
// order events happen on the line. Implementations must not block.
type Listener interface {
	// OnReply is called for every reply addressed to the listener.
	OnReply(reply *Reply)
	// OnOutgoing is called when msg has physically been written to the line.
	OnOutgoing(msg *Message)
	// OnTimeout is called when no reply to msg arrived in its reply window.
	OnTimeout(msg *Message)
}
