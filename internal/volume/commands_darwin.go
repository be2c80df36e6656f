//go:build darwin

package volume

import "github.com/petems/admute/internal/config"

// platformCommands uses AppleScript's output mute flag
func platformCommands(cfg config.VolumeConfig) (commandSet, error) {
	return commandSet{
		mute:   []string{"osascript", "-e", "set volume output muted true"},
		unmute: []string{"osascript", "-e", "set volume output muted false"},
	}, nil
}
