package updater

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/MartiMan79/gatewatch/pkg/internal/logfields"
	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/platform"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config describes what a release consists of and where it is installed.
type Config struct {
	// Root is the install root every release path is relative to. The
	// version record is kept directly under it.
	Root string
	// Files is the release's file set.
	Files FileSet
	// StagingPrefix marks fetched files waiting to be installed.
	StagingPrefix string
	// BackupPrefix marks the previous copy of a file kept while a release
	// is being installed.
	BackupPrefix string
}

// Result summarises a run.
type Result struct {
	Run     string
	From    uint32
	To      uint32
	Updated bool
}

// Manager runs updates. Runs are serialised; a Manager may be shared by the
// scheduled worker and a one-shot command.
type Manager struct {
	log       logging.Logger
	cfg       Config
	fetcher   platform.Fetcher
	restarter platform.Restarter

	run sync.Mutex

	mu    sync.Mutex
	state State

	// rename and observe are replaced in tests.
	rename  func(oldpath, newpath string) error
	observe func(State)
}

// New validates cfg and makes sure a version record exists, writing version
// 0 when the device has none yet.
func New(log logging.Logger, cfg Config, fetcher platform.Fetcher, restarter platform.Restarter) (*Manager, error) {
	switch {
	case cfg.Root == "":
		return nil, errors.New("install root must be provided")
	case fetcher == nil:
		return nil, errors.New("fetcher must be provided")
	case restarter == nil:
		return nil, errors.New("restarter must be provided")
	}
	if cfg.StagingPrefix == "" {
		cfg.StagingPrefix = DefaultStagingPrefix
	}
	if cfg.BackupPrefix == "" {
		cfg.BackupPrefix = DefaultBackupPrefix
	}
	if cfg.StagingPrefix == cfg.BackupPrefix {
		return nil, errors.New("staging and backup prefixes must differ")
	}
	if err := cfg.Files.Validate(cfg.StagingPrefix, cfg.BackupPrefix); err != nil {
		return nil, errors.WithMessage(err, "invalid file set")
	}

	m := &Manager{
		log:       log,
		cfg:       cfg,
		fetcher:   fetcher,
		restarter: restarter,
		state:     Idle,
		rename:    os.Rename,
	}

	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create install root")
	}
	present, err := exists(m.recordPath())
	if err != nil {
		return nil, errors.Wrap(err, "unable to inspect version record")
	}
	if !present {
		log.WithField("path", m.recordPath()).Info("no version record, starting at version 0")
		if err := writeRecord(m.recordPath(), VersionRecord{}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) recordPath() string {
	return filepath.Join(m.cfg.Root, VersionFile)
}

// State returns the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	if m.observe != nil {
		m.observe(s)
	}
}

// LocalVersion returns the installed release's version. A corrupt record
// reads as version 0 so that the next release repairs it.
func (m *Manager) LocalVersion() (VersionRecord, error) {
	r, err := readRecord(m.recordPath())
	if errors.Cause(err) == errCorruptRecord {
		m.log.WithError(err).Warn("treating corrupt version record as version 0")
		return VersionRecord{}, nil
	}
	return r, err
}

// Run performs one update check and, when a newer release is available,
// installs it and restarts the device. Without a newer release it changes
// nothing and ends Idle, so it is safe to call as often as needed.
//
// Every error before the install step leaves live files untouched and the
// manager Idle. Once the restart step is reached it runs to completion
// regardless of ctx.
func (m *Manager) Run(ctx context.Context) (Result, error) {
	m.run.Lock()
	defer m.run.Unlock()

	res := Result{Run: uuid.New().String()}
	log := m.log.WithField("run", res.Run)

	m.setState(CheckingVersion)
	manifest, local, err := m.check(ctx)
	if err != nil {
		m.setState(Idle)
		log.WithError(err).Warn("update check failed")
		return res, err
	}
	res.From, res.To = local.Version, manifest.Version
	log = m.log.WithFields(logfields.Update(res.Run, res.From, res.To))

	if manifest.Version <= local.Version {
		m.setState(Idle)
		log.Info("no new updates available")
		return res, nil
	}
	log.Info("newer version available")

	plans, err := m.plans()
	if err != nil {
		m.setState(Idle)
		return res, err
	}

	m.setState(Fetching)
	if err := m.fetch(ctx, log, plans); err != nil {
		m.discardStaged(log, plans)
		m.setState(Idle)
		log.WithError(err).Error("update abandoned while fetching")
		return res, err
	}

	m.setState(Verifying)
	if err := verify(plans); err != nil {
		m.discardStaged(log, plans)
		m.setState(Idle)
		log.WithError(err).Error("update abandoned at verification")
		return res, err
	}

	m.setState(Installing)
	if err := m.install(log, plans); err != nil {
		m.discardStaged(log, plans)
		m.setState(Idle)
		log.WithError(err).Error("update failed during install")
		return res, err
	}
	if err := writeRecord(m.recordPath(), VersionRecord{Version: manifest.Version}); err != nil {
		// The new files are live; restarting still brings them up.
		log.WithError(err).Error("installed files but could not record version")
	}
	res.Updated = true
	log.Info("update installed")

	m.setState(Restarting)
	log.Warn("restarting device")
	if err := m.restarter.Restart(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Error("restart failed")
		return res, errors.Wrap(err, "unable to restart after update")
	}
	return res, nil
}

func (m *Manager) check(ctx context.Context) (Manifest, VersionRecord, error) {
	raw, err := m.fetcher.Fetch(ctx, VersionFile)
	if err != nil {
		return Manifest{}, VersionRecord{}, errors.Wrap(ErrManifestUnavailable, err.Error())
	}
	manifest, err := decodeManifest(raw)
	if err != nil {
		return Manifest{}, VersionRecord{}, errors.Wrap(ErrManifestUnavailable, err.Error())
	}
	local, err := m.LocalVersion()
	if err != nil {
		return Manifest{}, VersionRecord{}, err
	}
	return manifest, local, nil
}

func (m *Manager) plans() ([]plan, error) {
	plans := make([]plan, 0, len(m.cfg.Files))
	for _, p := range m.cfg.Files {
		pl, err := m.planFor(p)
		if err != nil {
			return nil, err
		}
		plans = append(plans, pl)
	}
	return plans, nil
}

// fetch stages every file of the release. The first failure abandons the
// whole set.
func (m *Manager) fetch(ctx context.Context, log logging.Logger, plans []plan) error {
	for _, p := range plans {
		if err := m.ensureDirs(p); err != nil {
			return err
		}
		body, err := m.fetcher.Fetch(ctx, p.path)
		if err != nil {
			return &FileFetchError{Path: p.path, Err: err}
		}
		if err := os.WriteFile(p.staged, body, 0644); err != nil {
			return errors.Wrapf(err, "unable to stage %s", p.path)
		}
		log.WithFields(logrus.Fields{
			"file":  p.path,
			"bytes": len(body),
		}).Info("staged file")
	}
	return nil
}

func verify(plans []plan) error {
	for _, p := range plans {
		stat, err := os.Stat(p.staged)
		if err != nil {
			return errors.Wrapf(ErrIncompleteFetchSet, "%s not staged", p.path)
		}
		if stat.Size() == 0 {
			return errors.Wrapf(ErrIncompleteFetchSet, "%s staged empty", p.path)
		}
	}
	return nil
}

func (m *Manager) discardStaged(log logging.Logger, plans []plan) {
	for _, p := range plans {
		if err := os.Remove(p.staged); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("file", p.path).Warn("unable to remove staged file")
		}
	}
}

type installed struct {
	plan
	hadLive bool
}

// install swaps every staged file in over its live file. The previous live
// file is kept under its backup name until the whole set is in; if any swap
// fails the files swapped so far are put back.
func (m *Manager) install(log logging.Logger, plans []plan) error {
	var done []installed
	for _, p := range plans {
		hadLive, err := exists(p.live)
		if err == nil && hadLive {
			err = preserve(p.live, p.backup)
		}
		if err == nil {
			err = m.rename(p.staged, p.live)
		}
		if err != nil {
			err = errors.Wrapf(err, "unable to install %s", p.path)
			if hadLive {
				os.Remove(p.backup)
			}
			return m.rollback(log, done, err)
		}
		log.WithField("file", p.path).Info("installed file")
		done = append(done, installed{p, hadLive})
	}

	for _, d := range done {
		if d.hadLive {
			if err := os.Remove(d.backup); err != nil {
				log.WithError(err).WithField("file", d.path).Warn("unable to remove backup")
			}
		}
	}
	return nil
}

func (m *Manager) rollback(log logging.Logger, done []installed, cause error) error {
	clean := true
	for i := len(done) - 1; i >= 0; i-- {
		d := done[i]
		var err error
		if d.hadLive {
			err = m.rename(d.backup, d.live)
		} else {
			err = os.Remove(d.live)
		}
		if err != nil {
			clean = false
			log.WithError(err).WithField("file", d.path).Error("unable to restore previous file")
			continue
		}
		log.WithField("file", d.path).Warn("restored previous file")
	}
	if !clean {
		log.Error("device holds a mix of old and new files")
		return errors.Wrap(ErrPartialInstall, cause.Error())
	}
	return errors.Wrap(ErrInstallFailed, cause.Error())
}
