package otpx

import "errors"

var (
	ErrInvalidOptions = errors.New("otpx: invalid options")
	ErrInvalidSecret  = errors.New("otpx: invalid secret")
)
