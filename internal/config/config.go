// Package config loads cephsumd's YAML configuration file and provides a
// file watcher so a long-running daemon can pick up a rotated shared key or
// an edited path-mapping file without a restart. The configuration file
// itself is read once and is not watched.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/snafus/cephsum-server/internal/errs"
)

// ObjectStore holds the connection parameters for the backing object
// store, mirroring the teacher's BackendConfig shape (region, endpoint,
// credentials) one level up from the S3-specific struct.
type ObjectStore struct {
	Provider  string `yaml:"provider"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Config is the on-disk shape of cephsumd's configuration file.
type Config struct {
	ListenAddress    string        `yaml:"listen_address"`
	AuthKeyFile      string        `yaml:"auth_key_file"`
	PathMappingFile  string        `yaml:"path_mapping_file"`
	DefaultAlgorithm string        `yaml:"default_algorithm"`
	ReadBlockSizeMiB int           `yaml:"read_block_size_mib"`
	MaxPoolSize      int           `yaml:"max_pool_size"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	XattrKey         string        `yaml:"xattr_key"`
	ObjectStore      ObjectStore   `yaml:"object_store"`
}

// MinReadBlockSizeMiB is the hard floor on the configured read block size.
const MinReadBlockSizeMiB = 1

// Load reads and parses the YAML configuration file at path, applying the
// hard minimum on ReadBlockSizeMiB.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "read config file", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrap(errs.KindBadPath, "parse config file", err)
	}
	if cfg.ReadBlockSizeMiB < MinReadBlockSizeMiB {
		cfg.ReadBlockSizeMiB = MinReadBlockSizeMiB
	}
	return &cfg, nil
}

// Watcher watches one or more files for changes and invokes onChange with
// the path that changed. It is used for the HMAC key file and the
// path-mapping XML, both of which the original reads once at startup; this
// is an operational addition for the long-running Go daemon.
type Watcher struct {
	fw       *fsnotify.Watcher
	log      *logrus.Entry
	mu       sync.Mutex
	onChange func(path string)
	done     chan struct{}
}

// NewWatcher creates a Watcher over paths, invoking onChange once for every
// write or create event on one of them. Events are not debounced, so a
// single save can trigger several calls.
func NewWatcher(log *logrus.Entry, onChange func(path string), paths ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Wrap(errs.KindUnknown, "create file watcher", err)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := fw.Add(p); err != nil {
			fw.Close()
			return nil, errs.Wrap(errs.KindNotFound, "watch "+p, err)
		}
	}
	w := &Watcher{fw: fw, log: log, onChange: onChange, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.log.WithField("path", event.Name).Info("config file changed, reloading")
			w.onChange(event.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
