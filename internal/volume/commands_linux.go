//go:build linux

package volume

import "github.com/petems/admute/internal/config"

// platformCommands toggles an ALSA simple control with amixer
func platformCommands(cfg config.VolumeConfig) (commandSet, error) {
	control := cfg.Control
	if control == "" {
		control = "Master"
	}

	base := []string{"amixer", "-q"}
	if cfg.Card != "" {
		base = append(base, "-c", cfg.Card)
	}
	base = append(base, "set", control)

	return commandSet{
		mute:   append(append([]string{}, base...), "mute"),
		unmute: append(append([]string{}, base...), "unmute"),
	}, nil
}
