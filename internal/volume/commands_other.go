//go:build !linux && !darwin && !windows

package volume

import "github.com/petems/admute/internal/config"

func platformCommands(cfg config.VolumeConfig) (commandSet, error) {
	return commandSet{}, ErrUnsupported
}
