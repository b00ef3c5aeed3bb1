package service

import "errors"

var (
	ErrSecretTooShort           = errors.New("secret must be at least 20 bytes")
	ErrInvalidRecoveryCodeCount = errors.New("recovery code count must be between 8 and 10")
	ErrSealedSecretWithoutKey   = errors.New("stored secret is sealed but no master key is configured")
)
