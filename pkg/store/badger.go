package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/chazu/matelearn/pkg/logging"
	"github.com/chazu/matelearn/pkg/rules"
)

// ErrNotFound is returned when a named library or version does not exist.
var ErrNotFound = errors.New("library not found")

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string       `yaml:"path"`
	InMemory   bool         `yaml:"in_memory"`
	SyncWrites bool         `yaml:"sync_writes"`
	Logger     *slog.Logger `yaml:"-"`
}

// BadgerStore keeps named, versioned libraries. Every Put appends a new
// version; older versions stay readable. Values are MessagePack encoded.
type BadgerStore struct {
	db    *badger.DB
	codec *Codec
	log   *slog.Logger
}

type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenBadger opens (or creates) a library database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: badger path is required unless in_memory is set")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{log: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &BadgerStore{db: db, codec: NewCodec(FormatMsgpack), log: logging.OrDiscard(cfg.Logger)}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func checkName(name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return fmt.Errorf("store: invalid library name %q", name)
	}
	return nil
}

func namePrefix(name string) []byte {
	return []byte("lib/" + name + "/")
}

func versionKey(name string, version int) []byte {
	key := namePrefix(name)
	return binary.BigEndian.AppendUint64(key, uint64(version))
}

// Put stores lib as the next version of name and returns that version,
// starting at 1.
func (s *BadgerStore) Put(name string, lib *rules.Library) (int, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	val, err := s.codec.marshalLibrary(lib)
	if err != nil {
		return 0, err
	}

	var version int
	err = s.db.Update(func(txn *badger.Txn) error {
		versions, err := listVersions(txn, name)
		if err != nil {
			return err
		}
		version = 1
		if n := len(versions); n > 0 {
			version = versions[n-1] + 1
		}
		return txn.Set(versionKey(name, version), val)
	})
	if err != nil {
		return 0, fmt.Errorf("store: put %q: %w", name, err)
	}
	s.log.Info("library stored", "name", name, "version", version, "rules", lib.Len())
	return version, nil
}

// Get reads one version of name.
func (s *BadgerStore) Get(name string, version int) (*rules.Library, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey(name, version))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("store: %q version %d: %w", name, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", name, err)
	}
	return s.codec.unmarshalLibrary(val)
}

// Latest reads the newest version of name.
func (s *BadgerStore) Latest(name string) (*rules.Library, int, error) {
	versions, err := s.Versions(name)
	if err != nil {
		return nil, 0, err
	}
	if len(versions) == 0 {
		return nil, 0, fmt.Errorf("store: %q: %w", name, ErrNotFound)
	}
	v := versions[len(versions)-1]
	lib, err := s.Get(name, v)
	return lib, v, err
}

// Versions lists the stored versions of name in ascending order.
func (s *BadgerStore) Versions(name string) ([]int, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var versions []int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		versions, err = listVersions(txn, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: versions %q: %w", name, err)
	}
	return versions, nil
}

// Names lists every library name in the store.
func (s *BadgerStore) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("lib/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), "lib/")
			name, _, ok := strings.Cut(rest, "/")
			if ok && (len(names) == 0 || names[len(names)-1] != name) {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: names: %w", err)
	}
	return names, nil
}

// listVersions relies on big-endian version keys iterating in numeric order.
func listVersions(txn *badger.Txn, name string) ([]int, error) {
	prefix := namePrefix(name)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var versions []int
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		if len(key) != len(prefix)+8 {
			continue
		}
		versions = append(versions, int(binary.BigEndian.Uint64(key[len(prefix):])))
	}
	return versions, nil
}
