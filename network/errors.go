package network

import "errors"

var (
	ErrInvalidTLSConfig        = errors.New("invalid TLS configuration")
	ErrCertificateVerification = errors.New("certificate verification failed")
	ErrInvalidBackoffConfig    = errors.New("invalid backoff configuration")
	ErrMaxRetriesExceeded      = errors.New("max retries exceeded")
)
