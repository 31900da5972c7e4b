package bus

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a Controller.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// MsgSendCount indicates the number of messages written to the line,
	// retransmissions included.
	MsgSendCount atomic.Uint64
	// ReplyRecvCount indicates the number of valid replies received.
	ReplyRecvCount atomic.Uint64
	// UnsolicitedCount indicates the number of replies received while no
	// message was awaiting one.
	UnsolicitedCount atomic.Uint64
	// TimeoutCount indicates the number of reply windows that expired.
	TimeoutCount atomic.Uint64
	// RetransmitCount indicates the number of resends after a retransmittable error.
	RetransmitCount atomic.Uint64
	// ChecksumErrCount indicates the number of frames dropped for a bad checksum.
	ChecksumErrCount atomic.Uint64
	// DroppedFrameCount indicates the number of bytes or frames discarded
	// for any other framing reason.
	DroppedFrameCount atomic.Uint64
	// QueuedGauge indicates the number of messages waiting to be written.
	QueuedGauge atomic.Int64
}

func (m *Metrics) incMsgSendCount() {
	m.MsgSendCount.Add(1)
}

func (m *Metrics) incReplyRecvCount() {
	m.ReplyRecvCount.Add(1)
}

func (m *Metrics) incUnsolicitedCount() {
	m.UnsolicitedCount.Add(1)
}

func (m *Metrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *Metrics) incRetransmitCount() {
	m.RetransmitCount.Add(1)
}

func (m *Metrics) incChecksumErrCount() {
	m.ChecksumErrCount.Add(1)
}

func (m *Metrics) incDroppedFrameCount() {
	m.DroppedFrameCount.Add(1)
}

func (m *Metrics) incQueuedGauge() {
	m.QueuedGauge.Add(1)
}

func (m *Metrics) decQueuedGauge() {
	m.QueuedGauge.Add(-1)
}
