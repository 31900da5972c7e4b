package xnet

import "errors"

var (
	// ErrInvalidLength indicates that a frame's size does not match its header.
	ErrInvalidLength = errors.New("xnet: invalid frame length")

	// ErrChecksumMismatch indicates that the XOR checksum of a frame is wrong.
	ErrChecksumMismatch = errors.New("xnet: checksum mismatch")

	// ErrInvalidTurnout indicates a turnout number outside [MinTurnout, MaxTurnout].
	ErrInvalidTurnout = errors.New("xnet: turnout number out of range")
)
