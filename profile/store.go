// Package profile persists named acquisition profiles, the current profile and the session id
// in a single JSON file.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/biosignal/data"
	"go.viam.com/biosignal/logging"
	"go.viam.com/biosignal/services/acquisition"
)

// DefaultProfile is the profile a new store starts on.
const DefaultProfile = "default"

// A Store holds profiles and the session settings.
type Store interface {
	Current() string
	SetCurrent(profile string) error
	Profiles() []string
	AcquisitionConfig(profile string) (*acquisition.Config, error)
	SetAcquisitionConfig(profile string, cfg *acquisition.Config) error
	SessionID() string
	SetSessionID(id string) error
}

// ErrNoConfig is returned for a profile that has no acquisition config yet.
var ErrNoConfig = errors.New("profile has no acquisition config")

// Profile is one named set of settings.
type Profile struct {
	Acquisition *acquisition.Config `json:"acquisition,omitempty"`
}

type document struct {
	Current   string              `json:"current"`
	SessionID string              `json:"session_id,omitempty"`
	Profiles  map[string]*Profile `json:"profiles"`
}

func newDocument() *document {
	return &document{Current: DefaultProfile, Profiles: map[string]*Profile{}}
}

var (
	_ Store                   = (*FileStore)(nil)
	_ acquisition.ConfigStore = (*FileStore)(nil)
)

// FileStore is a Store kept in one JSON file. Every change rewrites the whole file through a
// temporary file and a rename, so readers never see a partial document.
type FileStore struct {
	path   string
	logger logging.Logger

	mu   sync.Mutex
	doc  *document
	last []byte
}

// OpenFileStore loads the store at path. A missing file is an empty store on DefaultProfile;
// it is created on the first change.
func OpenFileStore(path string, logger logging.Logger) (*FileStore, error) {
	fs := &FileStore{path: path, logger: logger, doc: newDocument()}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, errors.Wrap(err, "reading profile store")
	}
	doc, err := decode(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing profile store %s", path)
	}
	fs.doc, fs.last = doc, raw
	return fs, nil
}

func decode(raw []byte) (*document, error) {
	doc := newDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	if doc.Profiles == nil {
		doc.Profiles = map[string]*Profile{}
	}
	if doc.Current == "" {
		doc.Current = DefaultProfile
	}
	if err := data.ValidateSessionID(doc.SessionID); err != nil {
		return nil, err
	}
	for name, p := range doc.Profiles {
		if p == nil || p.Acquisition == nil {
			continue
		}
		if err := p.Acquisition.Validate("profiles." + name + ".acquisition"); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Path returns the file backing the store.
func (fs *FileStore) Path() string {
	return fs.path
}

// Current returns the name of the current profile.
func (fs *FileStore) Current() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.doc.Current
}

// SetCurrent switches the current profile. The profile does not need to exist yet.
func (fs *FileStore) SetCurrent(profile string) error {
	if profile == "" {
		return errors.New("profile name is empty")
	}
	return fs.update(func(doc *document) {
		doc.Current = profile
	})
}

// Profiles returns the names of the stored profiles, sorted.
func (fs *FileStore) Profiles() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	names := make([]string, 0, len(fs.doc.Profiles))
	for name := range fs.doc.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AcquisitionConfig returns a copy of the acquisition config of profile.
func (fs *FileStore) AcquisitionConfig(profile string) (*acquisition.Config, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, ok := fs.doc.Profiles[profile]
	if !ok || p.Acquisition == nil {
		return nil, ErrNoConfig
	}
	return p.Acquisition.Clone(), nil
}

// SetAcquisitionConfig stores a copy of cfg in profile.
func (fs *FileStore) SetAcquisitionConfig(profile string, cfg *acquisition.Config) error {
	if err := cfg.Validate("acquisition"); err != nil {
		return err
	}
	cfg = cfg.Clone()
	return fs.update(func(doc *document) {
		p, ok := doc.Profiles[profile]
		if !ok || p == nil {
			p = &Profile{}
			doc.Profiles[profile] = p
		}
		p.Acquisition = cfg
	})
}

// SessionID returns the id appended to recording file names.
func (fs *FileStore) SessionID() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.doc.SessionID
}

// SetSessionID stores the id appended to recording file names.
func (fs *FileStore) SetSessionID(id string) error {
	if err := data.ValidateSessionID(id); err != nil {
		return err
	}
	return fs.update(func(doc *document) {
		doc.SessionID = id
	})
}

func (fs *FileStore) update(fn func(doc *document)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn(fs.doc)
	raw, err := json.MarshalIndent(fs.doc, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(fs.path, raw); err != nil {
		return errors.Wrap(err, "saving profile store")
	}
	fs.last = raw
	return nil
}

func writeAtomic(path string, raw []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, os.Remove(tmp.Name()))
		}
	}()
	if _, err := tmp.Write(raw); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// reload rereads the file and reports whether it differs from what the store last saw. A file
// that does not parse is logged and ignored.
func (fs *FileStore) reload() bool {
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fs.logger.Warnw("failed to read profile store", "path", fs.path, "error", err)
		}
		return false
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if bytes.Equal(raw, fs.last) {
		return false
	}
	doc, err := decode(raw)
	if err != nil {
		fs.logger.Warnw("ignoring invalid profile store edit", "path", fs.path, "error", err)
		return false
	}
	fs.doc, fs.last = doc, raw
	return true
}

// Watch calls onChange after every external edit of the file until ctx is done. Changes made
// through the store itself are not reported.
func (fs *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			fs.logger.Debugw("error closing profile watcher", "error", err)
		}
	}()
	// The directory is watched because a rename replaces the file.
	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %s", dir)
	}
	name := filepath.Clean(fs.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if fs.reload() {
				fs.logger.Infow("profile store changed on disk", "path", fs.path)
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fs.logger.Warnw("profile watcher error", "error", err)
		}
	}
}
