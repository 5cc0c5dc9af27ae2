// Package tray provides a system tray front end for RoomGuard.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application. It starts and stops
// authentication in one room and shows how the last attempt ended.
type Tray struct {
	room       string
	onToggle   func(active bool)
	onSettings func()
	onQuit     func()
	active     bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuStatus      *systray.MenuItem
	menuToggle      *systray.MenuItem
	menuLastOutcome *systray.MenuItem
}

// New creates a new Tray for room. Authentication starts inactive.
func New(room string) *Tray {
	return &Tray{room: room}
}

// OnToggle sets the callback called when authentication is started or stopped
// from the menu.
func (t *Tray) OnToggle(fn func(active bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("RoomGuard")
	systray.SetTooltip("RoomGuard face authorization")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(statusTitle(t.room, "idle"), "Session state")
	t.menuStatus.Disable()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.active), "Start or stop authentication")
	systray.AddSeparator()

	t.menuLastOutcome = systray.AddMenuItem(outcomeTitle("", ""), "How the last attempt ended")
	t.menuLastOutcome.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open the configuration file")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit RoomGuard")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle flips the active state and reports it.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.active = !t.active
	active := t.active
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(active))
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(active)
	}
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetActive updates the toggle without calling OnToggle, for sessions that
// ended on their own.
func (t *Tray) SetActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = active
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(active))
	}
}

// SetState updates the status line.
func (t *Tray) SetState(state string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(t.room, state))
	}
}

// SetLastOutcome updates the last outcome display in the menu.
func (t *Tray) SetLastOutcome(outcome, user string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuLastOutcome != nil {
		t.menuLastOutcome.SetTitle(outcomeTitle(outcome, user))
	}
}

// IsActive returns the current toggle state.
func (t *Tray) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func statusTitle(room, state string) string {
	if room == "" {
		room = "no room"
	}
	return room + ": " + state
}

func toggleTitle(active bool) string {
	if active {
		return "■ Stop authentication"
	}
	return "▶ Start authentication"
}

func outcomeTitle(outcome, user string) string {
	switch {
	case outcome == "":
		return "Last: none"
	case user != "":
		return "Last: " + outcome + " (" + user + ")"
	default:
		return "Last: " + outcome
	}
}
