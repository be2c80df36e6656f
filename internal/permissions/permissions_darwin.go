//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import "github.com/rs/zerolog"

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() MicrophoneStatus {
	return MicrophoneStatus(C.checkMicrophonePermission())
}

// EnsureMicrophone returns nil when capture is allowed. When the user has
// never been asked it shows the system prompt and returns
// ErrMicrophonePending.
func EnsureMicrophone(log zerolog.Logger) error {
	status := CheckMicrophone()
	if status == NotDetermined {
		log.Warn().Msg("Microphone permission required, showing system prompt")
		C.requestMicrophonePermission()
	}
	if err := errorFor(status); err != nil {
		log.Error().Str("status", status.String()).Msg("Microphone access not granted")
		return err
	}
	return nil
}
