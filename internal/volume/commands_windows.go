//go:build windows

package volume

import "github.com/petems/admute/internal/config"

// platformCommands drives NirCmd, which must be installed separately
func platformCommands(cfg config.VolumeConfig) (commandSet, error) {
	nircmd := cfg.NircmdPath
	if nircmd == "" {
		nircmd = "nircmd.exe"
	}
	return commandSet{
		mute:   []string{nircmd, "mutesysvolume", "1"},
		unmute: []string{nircmd, "mutesysvolume", "0"},
	}, nil
}
