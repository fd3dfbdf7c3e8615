package broker

import "errors"

var (
	ErrGracefulShutdownTimeout = errors.New("broker: graceful shutdown timeout")
)
