// Package permissions checks the OS privacy permissions a listening session
// needs. Only macOS gates microphone access.
package permissions

import "errors"

// MicrophoneStatus mirrors AVAuthorizationStatus.
type MicrophoneStatus int

const (
	NotDetermined MicrophoneStatus = iota
	Restricted
	Denied
	Authorized
)

func (s MicrophoneStatus) String() string {
	switch s {
	case NotDetermined:
		return "not determined"
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

var (
	// ErrMicrophonePending means the user has not answered the prompt yet.
	ErrMicrophonePending = errors.New("microphone permission requested, grant it and start listening again")

	// ErrMicrophoneDenied means access was refused or is blocked by policy.
	ErrMicrophoneDenied = errors.New("microphone permission denied; enable it in System Settings → Privacy & Security → Microphone")
)

func errorFor(s MicrophoneStatus) error {
	switch s {
	case Authorized:
		return nil
	case NotDetermined:
		return ErrMicrophonePending
	default:
		return ErrMicrophoneDenied
	}
}
