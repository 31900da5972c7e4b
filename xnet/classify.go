package xnet

// Kind is the semantic verdict of a reply for one turnout.
type Kind uint8

const (
	// KindUnrelated means the reply carries nothing for the turnout.
	KindUnrelated Kind = iota
	// KindOK is the interface's global "command successfully received".
	KindOK
	// KindRetransmittableError is a transport error handled by the bus layer.
	KindRetransmittableError
	// KindFeedbackItem means the reply contains a turnout feedback item
	// covering the turnout's address.
	KindFeedbackItem
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindRetransmittableError:
		return "RetransmittableError"
	case KindFeedbackItem:
		return "FeedbackItem"
	default:
		return "Unrelated"
	}
}

// Classification is the result of Classify.
type Classification struct {
	Kind Kind
	// Item is valid only when Kind is KindFeedbackItem. It is bound to the
	// classified address.
	Item FeedbackItem
}

// HasItem reports whether the classification carries a feedback item.
func (c Classification) HasItem() bool {
	return c.Kind == KindFeedbackItem
}

// Classify determines what reply r means for the turnout at address.
// It does not depend on any turnout state.
func Classify(r *Reply, address int) Classification {
	switch {
	case r == nil:
		return Classification{Kind: KindUnrelated}
	case r.IsOK():
		return Classification{Kind: KindOK}
	case r.IsRetransmittableError():
		return Classification{Kind: KindRetransmittableError}
	}

	if item, ok := r.SelectTurnoutFeedback(address); ok {
		return Classification{Kind: KindFeedbackItem, Item: item}
	}

	return Classification{Kind: KindUnrelated}
}
