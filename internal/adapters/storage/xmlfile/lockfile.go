package xmlfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hylla/tt3/internal/db"
	"github.com/pelletier/go-toml/v2"
)

// lockInfo is the content of a lock file.
type lockInfo struct {
	Owner    string    `toml:"owner"`
	PID      int       `toml:"pid"`
	Host     string    `toml:"host"`
	Acquired time.Time `toml:"acquired"`
}

// fileLock is an exclusive claim on a document, kept fresh by a heartbeat
// that touches the lock file modification time.
type fileLock struct {
	path   string
	owner  string
	logger *log.Logger
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// lockPath returns the lock file companion of a document path.
func lockPath(docPath string) string { return docPath + ".lock" }

// acquireLock claims path. A lock whose modification time is older than
// staleAge is taken over; a fresher one yields ErrInUse.
func acquireLock(path string, refresh, staleAge time.Duration, logger *log.Logger) (*fileLock, error) {
	host, _ := os.Hostname()
	info := lockInfo{Owner: uuid.NewString(), PID: os.Getpid(), Host: host, Acquired: time.Now().UTC()}
	data, err := toml.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode lock file: %w", err)
	}

	if err := writeExclusive(path, data); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return nil, &db.StorageError{Op: "create lock file", Err: err}
		}
		held, age, statErr := inspectLock(path)
		switch {
		case statErr != nil && !errors.Is(statErr, fs.ErrNotExist):
			return nil, &db.StorageError{Op: "inspect lock file", Err: statErr}
		case statErr == nil && age < staleAge:
			return nil, fmt.Errorf("%w: locked by %s (pid %d on %q) %s ago", db.ErrInUse, held.Owner, held.PID, held.Host, age.Round(time.Second))
		case statErr == nil:
			logger.Warn("taking over stale lock", "lock", path, "owner", held.Owner, "host", held.Host, "pid", held.PID, "age", age.Round(time.Second))
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, &db.StorageError{Op: "remove stale lock file", Err: err}
			}
		}
		if err := writeExclusive(path, data); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return nil, fmt.Errorf("%w: lock %q was re-created while taking it over", db.ErrInUse, path)
			}
			return nil, &db.StorageError{Op: "create lock file", Err: err}
		}
	}

	l := &fileLock{
		path:   path,
		owner:  info.Owner,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.heartbeat(refresh)
	return l, nil
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// inspectLock reads the holder of a lock file and how long ago it was
// last refreshed. Unreadable content still reports the age.
func inspectLock(path string) (lockInfo, time.Duration, error) {
	st, err := os.Stat(path)
	if err != nil {
		return lockInfo{}, 0, err
	}
	var info lockInfo
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &info)
	}
	return info, time.Since(st.ModTime()), nil
}

// heartbeat refreshes the lock until release.
func (l *fileLock) heartbeat(every time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.refresh(); err != nil {
				l.logger.Error("lock refresh failed", "lock", l.path, "err", err)
			}
		}
	}
}

// refresh touches the lock file after checking it is still ours.
func (l *fileLock) refresh() error {
	held, _, err := inspectLock(l.path)
	if err != nil {
		return err
	}
	if held.Owner != l.owner {
		return fmt.Errorf("%w: lock now held by %s on %q", db.ErrInUse, held.Owner, held.Host)
	}
	now := time.Now()
	return os.Chtimes(l.path, now, now)
}

// release stops the heartbeat and removes the lock file if it is still ours.
func (l *fileLock) release() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		held, _, inspectErr := inspectLock(l.path)
		switch {
		case errors.Is(inspectErr, fs.ErrNotExist):
			l.logger.Warn("lock file vanished before release", "lock", l.path)
		case inspectErr != nil:
			err = &db.StorageError{Op: "inspect lock file", Err: inspectErr}
		case held.Owner != l.owner:
			l.logger.Warn("lock taken over by another owner, leaving it", "lock", l.path, "owner", held.Owner)
		default:
			if rmErr := os.Remove(l.path); rmErr != nil {
				err = &db.StorageError{Op: "remove lock file", Err: rmErr}
			}
		}
	})
	return err
}
