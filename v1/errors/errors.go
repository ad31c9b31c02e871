package errors

import "errors"

var (
	ErrUnknownAsset     = errors.New("unknown asset")
	ErrUnknownNetwork   = errors.New("unknown network")
	ErrUnknownChain     = errors.New("unknown chain")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)
