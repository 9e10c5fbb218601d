package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"
)

// ConnectionState tracks the link lifecycle shown on the connect button.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnecting   ConnectionState = "Connecting"
	StateConnected    ConnectionState = "Connected"
	StateError        ConnectionState = "Error"
)

// Flight control tuning.
const (
	imuStabilizationDelay = 3 * time.Second        // settle window after takeoff
	commandCooldown       = 500 * time.Millisecond // minimum gap between command attempts
	readyCueInterval      = 5 * time.Second        // "ready" cue cadence while idle in the air
	telemetryInterval     = 1 * time.Second

	moveDistance  = 30 // centimeters per discrete horizontal step
	climbDistance = 30 // centimeters per discrete vertical step
	rotationAngle = 90 // degrees per discrete rotation step
)

// MoveCommand identifies one discrete movement primitive.
type MoveCommand string

const (
	CmdForward   MoveCommand = "forward"
	CmdBack      MoveCommand = "back"
	CmdLeft      MoveCommand = "left"
	CmdRight     MoveCommand = "right"
	CmdUp        MoveCommand = "up"
	CmdDown      MoveCommand = "down"
	CmdRotateCW  MoveCommand = "rotate-cw"
	CmdRotateCCW MoveCommand = "rotate-ccw"
)

func (c MoveCommand) baseMagnitude() int {
	switch c {
	case CmdRotateCW, CmdRotateCCW:
		return rotationAngle
	case CmdUp, CmdDown:
		return climbDistance
	default:
		return moveDistance
	}
}

func (c MoveCommand) invoke(l DroneLink, magnitude int) error {
	switch c {
	case CmdForward:
		return l.MoveForward(magnitude)
	case CmdBack:
		return l.MoveBack(magnitude)
	case CmdLeft:
		return l.MoveLeft(magnitude)
	case CmdRight:
		return l.MoveRight(magnitude)
	case CmdUp:
		return l.MoveUp(magnitude)
	case CmdDown:
		return l.MoveDown(magnitude)
	case CmdRotateCW:
		return l.RotateClockwise(magnitude)
	case CmdRotateCCW:
		return l.RotateCounterClockwise(magnitude)
	default:
		return fmt.Errorf("unknown movement %q", string(c))
	}
}

// Advisory is one user-facing diagnostic line for the panel's message feed.
type Advisory struct {
	Level   string `json:"level"` // "info", "warn" or "error"
	Message string `json:"message"`
}

// DroneSnapshot is the point-in-time view of controller state pushed to the
// frontend.
type DroneSnapshot struct {
	State           ConnectionState `json:"state"`
	LinkName        string          `json:"linkName"`
	Battery         int             `json:"battery"`
	Height          int             `json:"height"`
	FlightTime      int             `json:"flightTime"`
	Flying          bool            `json:"flying"`
	IMUReady        bool            `json:"imuReady"`
	RCActive        bool            `json:"rcActive"`
	SpeedMultiplier float64         `json:"speedMultiplier"`
	QueueLength     int             `json:"queueLength"`
}

// DroneService owns the flight state machine: connection lifecycle, command
// throttling, the takeoff/landing cycle with its IMU window, movement
// dispatch and the pending-command queue.
type DroneService struct {
	settings *SettingsService
	app      *application.App

	mu            sync.Mutex
	link          DroneLink
	state         ConnectionState
	telemetry     Telemetry
	flying        bool
	imuReady      bool
	takeoffAt     time.Time
	lastCommandAt time.Time
	lastReadyCue  time.Time

	speedMultiplier float64
	commandQueue    []MoveCommand

	rcActive    bool
	lastStick   ControlVector
	lastStickAt time.Time

	imuTimer   *time.Timer
	pulseTimer *time.Timer
	stopCh     chan struct{}
}

func NewDroneService(settings *SettingsService) *DroneService {
	return &DroneService{
		settings:        settings,
		state:           StateDisconnected,
		speedMultiplier: 1.0,
	}
}

func (d *DroneService) setApp(app *application.App) {
	d.app = app
}

// Connect opens the configured link in the background. State moves to
// Connecting immediately so the panel shows progress; the attempt lands in
// Connected or Error.
func (d *DroneService) Connect() {
	d.mu.Lock()
	if d.state == StateConnecting || d.state == StateConnected {
		state := d.state
		d.mu.Unlock()
		slog.Debug("connect ignored", "state", state)
		return
	}
	d.state = StateConnecting
	d.mu.Unlock()

	d.emitStatus()

	go d.connectLink(d.settings.GetSettings().LinkKind)
}

// ToggleConnection is the connect button: one click to connect, one to
// disconnect. An errored link disconnects first, so the next click retries.
func (d *DroneService) ToggleConnection() {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	if state == StateDisconnected {
		d.Connect()
	} else {
		d.Disconnect()
	}
}

func (d *DroneService) connectLink(kind string) {
	link, err := d.dialLink(kind)
	if err != nil {
		d.mu.Lock()
		d.state = StateError
		d.mu.Unlock()

		slog.Error("connect failed", "kind", kind, "error", err)
		d.advise("error", fmt.Sprintf("Connection failed: %v", err))
		d.advise("info", "Check that the drone is powered on and this machine is on its WiFi network.")
		d.emitStatus()
		return
	}

	d.mu.Lock()
	if d.state != StateConnecting {
		// Disconnect raced the dial. Drop the link instead of resurrecting
		// a connection the user already closed.
		d.mu.Unlock()
		link.Disconnect()
		slog.Warn("connection dropped before completion", "link", link.Name())
		return
	}
	d.link = link
	d.state = StateConnected
	d.stopCh = make(chan struct{})
	go d.telemetryLoop(d.stopCh)
	d.mu.Unlock()

	slog.Info("drone connected", "link", link.Name())
	d.advise("info", fmt.Sprintf("Connected to %s.", link.Name()))
	d.advise("info", "Place the drone on a flat surface for IMU calibration, then take off to enable movement.")
	d.RefreshTelemetry()
	d.emitStatus()
}

// dialLink builds and connects the requested backend. "auto" tries the real
// drone first and falls back to the simulator.
func (d *DroneService) dialLink(kind string) (DroneLink, error) {
	host := d.settings.GetSettings().DroneHost

	switch kind {
	case "tello":
		link := NewTelloAdapter(host, telloControlPort, telloStatePort)
		if err := link.Connect(); err != nil {
			return nil, err
		}
		return link, nil
	case "sim":
		link := NewSimulatedDrone()
		if err := link.Connect(); err != nil {
			return nil, err
		}
		return link, nil
	default: // "auto"
		link := NewTelloAdapter(host, telloControlPort, telloStatePort)
		if err := link.Connect(); err != nil {
			slog.Warn("no drone reachable, using simulator", "error", err)
			sim := NewSimulatedDrone()
			if err := sim.Connect(); err != nil {
				return nil, err
			}
			return sim, nil
		}
		return link, nil
	}
}

// Disconnect lands the drone if it is airborne and tears the link down.
// Safe to call from any state.
func (d *DroneService) Disconnect() {
	d.mu.Lock()

	if d.rcActive {
		d.stopRCLocked()
	}

	link := d.link
	if link != nil && d.flying {
		// Direct link call, bypassing the command throttle.
		if err := link.Land(); err != nil {
			slog.Warn("landing on disconnect failed", "error", err)
		}
	}
	if link != nil {
		if err := link.Disconnect(); err != nil {
			slog.Warn("link disconnect failed", "error", err)
		}
	}

	if d.stopCh != nil {
		close(d.stopCh)
		d.stopCh = nil
	}
	if d.imuTimer != nil {
		d.imuTimer.Stop()
		d.imuTimer = nil
	}
	d.cancelPulseLocked()
	d.link = nil
	d.state = StateDisconnected
	d.flying = false
	d.imuReady = false
	d.mu.Unlock()

	slog.Info("drone disconnected")
	d.emitStatus()
}

func (d *DroneService) telemetryLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			d.RefreshTelemetry()
		}
	}
}

// RefreshTelemetry polls the link getters and pushes the result to the
// frontend. Poll errors are routine while the link settles and are only
// debug-logged.
func (d *DroneService) RefreshTelemetry() {
	d.mu.Lock()
	link := d.link
	connected := d.state == StateConnected
	d.mu.Unlock()

	if link == nil || !connected {
		return
	}

	battery, err := link.Battery()
	if err != nil {
		slog.Debug("battery poll failed", "error", err)
		return
	}
	height, err := link.Height()
	if err != nil {
		slog.Debug("height poll failed", "error", err)
		return
	}
	flightTime, err := link.FlightTime()
	if err != nil {
		slog.Debug("flight time poll failed", "error", err)
		return
	}

	d.mu.Lock()
	d.telemetry = Telemetry{Battery: battery, Height: height, FlightTime: flightTime}
	tel := d.telemetry
	d.mu.Unlock()

	if d.app != nil {
		d.app.Event.Emit("telemetry", &tel)
	}

	d.checkReadyCue()
}

// checkReadyCue fires the periodic "ready" cue when the drone is airborne,
// stabilized and has nothing queued.
func (d *DroneService) checkReadyCue() {
	d.mu.Lock()
	ready := d.flying && d.imuReady && len(d.commandQueue) == 0 &&
		time.Since(d.lastReadyCue) >= readyCueInterval
	if ready {
		d.lastReadyCue = time.Now()
	}
	d.mu.Unlock()

	if !ready {
		return
	}
	d.emitCue("ready")
	d.advise("info", "Drone ready for commands")
}

// canDispatchLocked reports whether the cooldown window has passed, stamping
// the attempt time when it has. Must be called with mu held.
func (d *DroneService) canDispatchLocked() bool {
	if time.Since(d.lastCommandAt) >= commandCooldown {
		d.lastCommandAt = time.Now()
		return true
	}
	return false
}

// dispatch runs one link command under the connection and cooldown guards
// and reports whether it was attempted and accepted.
func (d *DroneService) dispatch(name string, call func(DroneLink) error) bool {
	d.mu.Lock()
	link := d.link
	state := d.state
	ok := state == StateConnected && link != nil && d.canDispatchLocked()
	d.mu.Unlock()

	if !ok {
		if state != StateConnected {
			d.advise("warn", fmt.Sprintf("Cannot execute %s: %s", name, state))
		} else {
			slog.Debug("command throttled", "command", name)
		}
		return false
	}

	if err := call(link); err != nil {
		if errors.Is(err, ErrIMUNotReady) {
			d.advise("error", "IMU not ready: take off and let the drone stabilize before movement commands.")
		} else {
			d.advise("error", fmt.Sprintf("Command %s failed: %v", name, err))
		}
		return false
	}
	return true
}

// checkIMUReadyLocked promotes imuReady once the stabilization window has
// elapsed. Must be called with mu held.
func (d *DroneService) checkIMUReadyLocked() bool {
	if !d.flying {
		return false
	}
	if time.Since(d.takeoffAt) >= imuStabilizationDelay {
		d.imuReady = true
	}
	return d.imuReady
}

// TakeOff starts the motors and opens the IMU stabilization window.
// Movement stays on stick fallback until the window closes.
func (d *DroneService) TakeOff() bool {
	d.mu.Lock()
	if d.flying {
		d.mu.Unlock()
		d.advise("warn", "Drone is already flying")
		return false
	}
	d.imuReady = false
	d.mu.Unlock()

	d.advise("info", "Attempting takeoff...")
	if !d.dispatch("takeoff", func(l DroneLink) error { return l.TakeOff() }) {
		d.advise("error", "Takeoff failed. Check drone status and try again.")
		return false
	}

	d.mu.Lock()
	d.flying = true
	d.imuReady = false
	d.takeoffAt = time.Now()
	if d.imuTimer != nil {
		d.imuTimer.Stop()
	}
	d.imuTimer = time.AfterFunc(imuStabilizationDelay, d.promoteIMU)
	d.mu.Unlock()

	d.advise("info", "Takeoff successful!")
	d.advise("info", fmt.Sprintf("IMU stabilizing for %s. Stick control is available immediately.", imuStabilizationDelay))
	d.emitStatus()
	return true
}

// promoteIMU marks the IMU usable when the stabilization timer fires,
// unless the drone already landed.
func (d *DroneService) promoteIMU() {
	d.mu.Lock()
	if !d.flying || d.imuReady {
		d.mu.Unlock()
		return
	}
	d.imuReady = true
	d.mu.Unlock()

	d.advise("info", "IMU stabilized. Full movement commands available.")
	d.emitStatus()
}

func (d *DroneService) Land() bool {
	d.mu.Lock()
	if !d.flying {
		d.mu.Unlock()
		d.advise("warn", "Drone is already on the ground")
		return false
	}
	d.mu.Unlock()

	d.advise("info", "Landing...")
	if !d.dispatch("land", func(l DroneLink) error { return l.Land() }) {
		d.advise("error", "Landing failed. Use emergency stop if needed.")
		return false
	}

	d.mu.Lock()
	d.flying = false
	d.imuReady = false
	if d.imuTimer != nil {
		d.imuTimer.Stop()
		d.imuTimer = nil
	}
	d.mu.Unlock()

	d.advise("info", "Landing successful. Movement controls disabled.")
	d.emitStatus()
	return true
}

// executeMovement routes one discrete movement: rejected on the ground,
// redirected to a stick pulse during the IMU window, otherwise scaled by
// the speed multiplier and dispatched.
func (d *DroneService) executeMovement(cmd MoveCommand) bool {
	d.mu.Lock()
	if !d.flying {
		d.mu.Unlock()
		d.advise("warn", "Movement commands require takeoff first. Press T or the TAKEOFF button.")
		return false
	}
	if !d.checkIMUReadyLocked() {
		remaining := imuStabilizationDelay - time.Since(d.takeoffAt)
		d.mu.Unlock()
		d.advise("info", fmt.Sprintf("IMU stabilizing, %.1fs remaining. Using stick control for immediate movement.", remaining.Seconds()))
		return d.pulseMovement(cmd)
	}
	mult := d.speedMultiplier
	d.mu.Unlock()

	magnitude := int(float64(cmd.baseMagnitude()) * mult)
	if mult > 1.0 {
		d.advise("info", fmt.Sprintf("Boosted %s: %d", cmd, magnitude))
	} else {
		d.advise("info", fmt.Sprintf("Command %s: %d", cmd, magnitude))
	}
	return d.dispatch(string(cmd), func(l DroneLink) error { return cmd.invoke(l, magnitude) })
}

func (d *DroneService) MoveForward() bool { return d.executeMovement(CmdForward) }
func (d *DroneService) MoveBack() bool    { return d.executeMovement(CmdBack) }
func (d *DroneService) MoveLeft() bool    { return d.executeMovement(CmdLeft) }
func (d *DroneService) MoveRight() bool   { return d.executeMovement(CmdRight) }
func (d *DroneService) MoveUp() bool      { return d.executeMovement(CmdUp) }
func (d *DroneService) MoveDown() bool    { return d.executeMovement(CmdDown) }

func (d *DroneService) RotateClockwise() bool        { return d.executeMovement(CmdRotateCW) }
func (d *DroneService) RotateCounterClockwise() bool { return d.executeMovement(CmdRotateCCW) }

// FlipForward needs a settled IMU; there is no stick fallback for flips.
func (d *DroneService) FlipForward() bool {
	d.mu.Lock()
	if !d.flying {
		d.mu.Unlock()
		d.advise("warn", "Flips require takeoff first")
		return false
	}
	if !d.checkIMUReadyLocked() {
		d.mu.Unlock()
		d.advise("warn", "IMU must stabilize before flips. Please wait...")
		return false
	}
	d.mu.Unlock()

	d.advise("info", "Performing forward flip!")
	return d.dispatch("flip", func(l DroneLink) error { return l.FlipForward() })
}

// SetSpeedMultiplier scales discrete distances and stick speeds. Held-boost
// callers pass the boost value on press and 1.0 on release.
func (d *DroneService) SetSpeedMultiplier(mult float64) {
	d.mu.Lock()
	d.speedMultiplier = mult
	d.mu.Unlock()

	if mult > 1.0 {
		d.advise("info", fmt.Sprintf("Speed boost active: %gx", mult))
	} else {
		d.advise("info", "Normal speed restored")
	}
	d.emitStatus()
}

// QueueMove appends a movement to the pending queue shown in the panel.
func (d *DroneService) QueueMove(cmd MoveCommand) int {
	d.mu.Lock()
	d.commandQueue = append(d.commandQueue, cmd)
	n := len(d.commandQueue)
	d.mu.Unlock()

	d.emitStatus()
	return n
}

// ClearQueue drops all pending commands and reports how many were dropped.
func (d *DroneService) ClearQueue() int {
	d.mu.Lock()
	n := len(d.commandQueue)
	d.commandQueue = nil
	d.mu.Unlock()

	if n == 0 {
		d.advise("info", "No commands to clear")
		return 0
	}
	d.advise("info", fmt.Sprintf("Cleared %d queued commands", n))
	d.emitCue("queue-cleared")
	d.emitStatus()
	return n
}

// EmergencyStop zeroes all stick axes immediately, bypassing the throttle
// and flight-state guards.
func (d *DroneService) EmergencyStop() {
	d.mu.Lock()
	link := d.link
	connected := d.state == StateConnected
	d.mu.Unlock()

	if link == nil || !connected {
		return
	}
	if err := link.SendStickCommand(0, 0, 0, 0); err != nil {
		slog.Debug("emergency stop send failed", "error", err)
	}
}

// Snapshot returns a copy of controller state for the panel.
func (d *DroneService) Snapshot() DroneSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := ""
	if d.link != nil {
		name = d.link.Name()
	}
	return DroneSnapshot{
		State:           d.state,
		LinkName:        name,
		Battery:         d.telemetry.Battery,
		Height:          d.telemetry.Height,
		FlightTime:      d.telemetry.FlightTime,
		Flying:          d.flying,
		IMUReady:        d.imuReady,
		RCActive:        d.rcActive,
		SpeedMultiplier: d.speedMultiplier,
		QueueLength:     len(d.commandQueue),
	}
}

// advise logs a user-facing diagnostic and mirrors it to the panel feed.
func (d *DroneService) advise(level, msg string) {
	switch level {
	case "error":
		slog.Error(msg)
	case "warn":
		slog.Warn(msg)
	default:
		slog.Info(msg)
	}
	if d.app != nil {
		d.app.Event.Emit("advisory", &Advisory{Level: level, Message: msg})
	}
}

func (d *DroneService) emitCue(name string) {
	if d.app != nil {
		d.app.Event.Emit("cue", name)
	}
}

func (d *DroneService) emitStatus() {
	if d.app == nil {
		return
	}
	snap := d.Snapshot()
	d.app.Event.Emit("drone-status", &snap)
}
