// Package xnet implements the subset of the XpressNet protocol needed to
// drive stationary (accessory) decoders: building accessory operation and
// information requests, parsing replies from the command station and
// classifying them for a particular turnout.
//
// # Framing
//
// Every XpressNet message and reply has the same shape:
//
//	[Header][Data(0–15)][XOR]
//
// The low nibble of the header is the number of data bytes. The trailing
// byte is the XOR of all preceding bytes, so the XOR over a whole valid
// frame is zero.
//
// # Accessory numbering
//
// Turnouts are numbered 1–1024. A turnout n lives in address group
// (n-1)/4, and within the group in nibble ((n-1)%4)/2. Feedback replies
// report one nibble per byte pair, so a single item always describes two
// adjacent turnouts.
//
// # Classification
//
// [Classify] maps a [Reply] to a [Classification] for one turnout address.
// It distinguishes the interface "command successfully received" reply,
// retransmittable transport errors, feedback items addressed to the turnout
// and everything else.
package xnet
