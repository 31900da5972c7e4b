// Package bus implements the traffic controller for one XpressNet line.
//
// XpressNet is half duplex from the point of view of a PC interface: the
// interface accepts one request, answers it, and only then accepts the next.
// [Controller] serializes every outgoing [xnet.Message] from all turnouts
// onto the line, waits for the reply window of each message and routes the
// replies back to the [xnet.Listener] that sent it. Stop commands use
// [Controller.SendHighPriority] so they overtake queued requests.
//
// Replies that arrive while no message is outstanding (feedback broadcasts,
// track power notifications) are marked unsolicited and delivered to the
// listeners registered with [Controller.AddListener].
//
// The controller is transport agnostic. [OpenSerial] opens an LI100, LI101 or
// LI-USB interface, [DialTCP] a networked interface and [DialWebSocket] a
// WebSocket serial bridge.
package bus
