//go:build !darwin

package permissions

import "github.com/rs/zerolog"

// CheckMicrophone reports Authorized; other platforms do not gate capture.
func CheckMicrophone() MicrophoneStatus {
	return Authorized
}

// EnsureMicrophone is a no-op on non-macOS platforms.
func EnsureMicrophone(zerolog.Logger) error {
	return errorFor(CheckMicrophone())
}
