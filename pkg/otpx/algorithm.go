package otpx

import (
	"fmt"
	"strings"

	"github.com/pquerna/otp"
)

// Algorithm names the HMAC hash used for code generation.
type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "SHA1" // Authenticator app default
	AlgorithmSHA256 Algorithm = "SHA256"
	AlgorithmSHA512 Algorithm = "SHA512"
)

// ParseAlgorithm accepts the configuration spelling ("sha1", "SHA-256", ...).
func ParseAlgorithm(s string) (Algorithm, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	switch Algorithm(normalized) {
	case "":
		return AlgorithmSHA1, nil
	case AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512:
		return Algorithm(normalized), nil
	default:
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidOptions, s)
	}
}

// OTP maps a to the pquerna/otp constant.
func (a Algorithm) OTP() otp.Algorithm {
	switch a {
	case AlgorithmSHA256:
		return otp.AlgorithmSHA256
	case AlgorithmSHA512:
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// String is the spelling used in otpauth:// URIs.
func (a Algorithm) String() string {
	if a == "" {
		return string(AlgorithmSHA1)
	}
	return string(a)
}
