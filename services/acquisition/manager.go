package acquisition

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/biosignal/data"
	"go.viam.com/biosignal/logging"
)

// ErrNoRecorder is returned for recording events when recording is not configured.
var ErrNoRecorder = errors.New("recording is not enabled")

// Event is a request to the acquisition manager.
type Event int

// Events handled by Manager.Handle.
const (
	EventStartStream Event = iota
	EventStopStream
	EventResetConfig
	EventPrintConfig
	EventConfigChanged
	EventStartRecording
	EventStopRecording
)

func (e Event) String() string {
	switch e {
	case EventStartStream:
		return "start_stream"
	case EventStopStream:
		return "stop_stream"
	case EventResetConfig:
		return "reset_config"
	case EventPrintConfig:
		return "print_config"
	case EventConfigChanged:
		return "config_changed"
	case EventStartRecording:
		return "start_recording"
	case EventStopRecording:
		return "stop_recording"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ParseEvent parses the name of an event.
func ParseEvent(s string) (Event, error) {
	for e := EventStartStream; e <= EventStopRecording; e++ {
		if e.String() == s {
			return e, nil
		}
	}
	return 0, errors.Errorf("unknown acquisition event %q", s)
}

// ConfigStore is where the manager reads and saves the acquisition config of the current
// profile.
type ConfigStore interface {
	Current() string
	AcquisitionConfig(profile string) (*Config, error)
	SetAcquisitionConfig(profile string, cfg *Config) error
}

// Manager turns events into task operations against the current profile's config. With a
// recorder set it also starts and stops recording sessions of the task's samples.
type Manager struct {
	task   *Task
	store  ConfigStore
	logger logging.Logger

	recorder  *data.Recorder
	sessionID func() string
	workers   *utils.StoppableWorkers

	recMu         sync.Mutex
	recordingDone chan struct{}
}

// NewManager returns a manager driving task.
func NewManager(task *Task, store ConfigStore, logger logging.Logger) *Manager {
	return &Manager{task: task, store: store, logger: logger, workers: utils.NewBackgroundStoppableWorkers()}
}

// SetRecorder enables the recording events. sessionID names each new recording.
func (m *Manager) SetRecorder(rec *data.Recorder, sessionID func() string) {
	m.recorder = rec
	m.sessionID = sessionID
}

// Close ends an active recording session and waits for its file to be closed.
func (m *Manager) Close() {
	m.workers.Stop()
}

// Task returns the managed task.
func (m *Manager) Task() *Task {
	return m.task
}

// Handle processes one event.
func (m *Manager) Handle(ctx context.Context, ev Event) error {
	m.logger.CDebugw(ctx, "handling acquisition event", "event", ev)
	switch ev {
	case EventStartStream:
		return m.startStream(ctx)
	case EventStopStream:
		return m.stopStream(ctx)
	case EventResetConfig:
		return m.resetConfig(ctx)
	case EventPrintConfig:
		return m.printConfig()
	case EventConfigChanged:
		return m.configChanged()
	case EventStartRecording:
		return m.startRecording()
	case EventStopRecording:
		return m.stopRecording(ctx)
	default:
		return errors.Errorf("unknown acquisition event %d", int(ev))
	}
}

func (m *Manager) currentConfig() (string, *Config, error) {
	profile := m.store.Current()
	cfg, err := m.store.AcquisitionConfig(profile)
	if err != nil {
		return profile, nil, errors.Wrapf(err, "loading acquisition config of profile %q", profile)
	}
	return profile, cfg, nil
}

func (m *Manager) startStream(ctx context.Context) error {
	if m.task.State().Running() {
		m.logger.Info("tried to start streaming while already running")
		return nil
	}
	_, cfg, err := m.currentConfig()
	if err != nil {
		return err
	}
	return m.task.Start(ctx, cfg)
}

func (m *Manager) stopStream(ctx context.Context) error {
	if !m.task.State().Running() && m.task.PoweredDown() {
		m.logger.Info("tried to power down the chain while already powered down")
		return nil
	}
	if err := m.task.Stop(ctx); err != nil {
		return err
	}
	return m.task.PowerDown(ctx)
}

// resetConfig replaces the current profile's config with the default for the probed chain.
func (m *Manager) resetConfig(ctx context.Context) error {
	if m.task.State().Running() {
		m.logger.Warn("not allowed to reset the config while streaming")
		return ErrBusy
	}
	n, err := m.task.ProbeChannels(ctx)
	if err != nil {
		return err
	}
	cfg := DefaultConfig(n)
	profile := m.store.Current()
	m.logger.Infow("resetting acquisition config to default", "profile", profile, "channels", n)
	return m.store.SetAcquisitionConfig(profile, cfg)
}

func (m *Manager) printConfig() error {
	profile, cfg, err := m.currentConfig()
	if err != nil {
		return err
	}
	m.logger.Infow("acquisition config", "profile", profile, "config", cfg.String())
	return nil
}

// configChanged pushes the stored config into a running session.
func (m *Manager) configChanged() error {
	if !m.task.State().Running() {
		return nil
	}
	_, cfg, err := m.currentConfig()
	if err != nil {
		return err
	}
	return m.task.Reconfigure(cfg)
}

// startRecording opens a session right away, so a second start fails with
// data.ErrSessionActive, and records it in the background until stopped or closed.
func (m *Manager) startRecording() error {
	if m.recorder == nil {
		return ErrNoRecorder
	}
	m.recMu.Lock()
	defer m.recMu.Unlock()

	if m.workers.Context().Err() != nil {
		return errors.New("acquisition manager is closed")
	}
	sess, err := m.recorder.Open(m.task.Samples(), m.sessionID())
	if err != nil {
		return err
	}
	done := make(chan struct{})
	m.recordingDone = done
	m.workers.Add(func(ctx context.Context) {
		defer close(done)
		if err := sess.Run(ctx, m.task.StreamingReceiver()); err != nil {
			m.logger.Errorw("recording failed", "path", sess.Path(), "error", err)
		}
	})
	return nil
}

// stopRecording ends the active session and waits until its file is closed.
func (m *Manager) stopRecording(ctx context.Context) error {
	if m.recorder == nil {
		return ErrNoRecorder
	}
	m.recMu.Lock()
	defer m.recMu.Unlock()

	if !m.recorder.Active() || m.recordingDone == nil {
		m.logger.Info("tried to stop recording while not recording")
		return nil
	}
	m.recorder.Stop()
	select {
	case <-m.recordingDone:
		m.recordingDone = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
