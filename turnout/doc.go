// Package turnout drives XpressNet stationary decoders.
//
// A [Turnout] owns the commanded and known position of one accessory output
// pair together with its request queue. It sends requests through a [Bus],
// normally a *bus.Controller, and consumes the replies, write notifications
// and timeouts the bus reports back through the xnet.Listener methods.
//
// # Command cycle
//
// A command moves the turnout through these internal states:
//
//	Idle -> QueuedMessage -> CommandSent -> OffSent -> Idle
//
// QueuedMessage lasts until the bus reports the command as written. The
// [FeedbackMode] decides which reply ends CommandSent by sending the stop
// command, and whether the known position is taken from feedback:
//
//   - Direct: an OK or any feedback item for the turnout; the stop command
//     is sent twice.
//   - Monitoring: an OK or a feedback item reporting a position.
//   - Exact: like Monitoring, but decoders with end position feedback are
//     polled until they report the motion as complete.
//   - Signal: nothing is awaited; command and stop go out back to back.
//
// The OK reply to the stop command confirms the commanded position.
//
// # Manager
//
// [Manager] creates turnouts on demand, routes feedback broadcasts to every
// turnout they cover, caches the last report of every nibble and keeps the
// roster of modes and inverted flags in a store.Store. State changes are
// published as [Event] values through a [Hub].
package turnout
