package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/config"
	"github.com/petems/admute/internal/logging"
)

// Controller is the part of the application the tray drives.
type Controller interface {
	Toggle() error
	IsListening() bool
	ListDevices() ([]audio.AudioDevice, error)
	SetDevice(id string) error
}

type UI struct {
	app     Controller
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger
	onQuit  func()

	// Menu items
	mStartStop *systray.MenuItem
	mDevices   *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetListening() {
	u.updateStatus("listening")
}

func (u *UI) SetMuted() {
	u.updateStatus("muted")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// New creates the tray UI. onQuit runs when the user picks Quit, before the
// tray exits.
func New(application Controller, cfg *config.Config, version, commit string, log zerolog.Logger, onQuit func()) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log.With().Str("component", "tray").Logger(),
		onQuit:  onQuit,
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application Controller) {
	u.app = application
}

// Run blocks on the tray event loop until Quit or ctx ends. systray must
// run on the main goroutine on macOS.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.updateStatus("idle")
	systray.SetTooltip("Mutes the speakers while ads play")

	// Build menu
	u.mStartStop = systray.AddMenuItem(startStopTitle(false), "Start or stop ad detection")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About AdMute")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleListening()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			if u.onQuit != nil {
				u.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

func (u *UI) toggleListening() {
	if err := u.app.Toggle(); err != nil {
		u.log.Error().Err(err).Msg("Failed to toggle listening")
		u.SetError()
	}
	u.mStartStop.SetTitle(startStopTitle(u.app.IsListening()))
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if isSelected(dev, u.cfg.Audio.DeviceID) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Cannot change audio device")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) openLogs() {
	name, args := openCommand(runtime.GOOS, logging.Path())
	if err := exec.Command(name, args...).Start(); err != nil {
		u.log.Error().Err(err).Str("path", logging.Path()).Msg("Failed to open log file")
	}
}

func (u *UI) showAbout() {
	// TODO: Show about dialog with native UI
	fmt.Printf("AdMute %s (%s)\nMutes the speakers while ads play\n", u.version, u.commit)
}

func (u *UI) onExit() {
	u.log.Debug().Msg("Tray exited")
}

// updateStatus sets the tray title with speaker emoji and status indicator
func (u *UI) updateStatus(status string) {
	systray.SetTitle(fmt.Sprintf("🔊 %s", emojiForStatus(status)))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "listening":
		return "🟢" // Green - listening, output on
	case "muted":
		return "🔴" // Red - ad playing, output muted
	case "idle":
		return "⚪️" // White - not listening
	case "error":
		return "🟡" // Yellow - needs attention
	default:
		return "⚪️"
	}
}

func startStopTitle(listening bool) string {
	if listening {
		return "Stop Listening"
	}
	return "Start Listening"
}

// isSelected reports whether dev is the configured device; an empty
// setting means the system default.
func isSelected(dev audio.AudioDevice, configured string) bool {
	if configured == "" {
		return dev.Default
	}
	return dev.ID == configured || dev.Name == configured
}

// openCommand returns the command that opens path with the desktop's
// default application.
func openCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "cmd", []string{"/c", "start", "", path}
	default:
		return "xdg-open", []string{path}
	}
}
