// Package badger keeps forecast runs in an embedded key value store. The latest run per disease
// and region is always kept; earlier runs are kept as history when enabled.
package badger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

const (
	prefixLatest  = "latest/"
	prefixHistory = "history/"

	// sortable generation time used in history keys
	historyTimeLayout = "20060102T150405.000000000Z"
)

var (
	ErrNotFound       = errors.New("no run stored")
	ErrEmptyPath      = errors.New("path is required unless the store is in memory")
	ErrUnknownLevel   = errors.New("unknown compression level")
	ErrCorruptPayload = errors.New("stored payload could not be decoded")
)

type Options struct {
	Path             string `json:"path"`
	InMemory         bool   `json:"in_memory"`
	KeepHistory      bool   `json:"keep_history"`
	CompressionLevel int    `json:"compression_level"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Path:             "./history",
		KeepHistory:      true,
		CompressionLevel: 2,
	}
}

func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	opt := *o
	if opt.Path == "" && !opt.InMemory {
		return nil, ErrEmptyPath
	}
	if opt.CompressionLevel == 0 {
		opt.CompressionLevel = 2
	}
	if _, err := encoderLevel(opt.CompressionLevel); err != nil {
		return nil, err
	}
	return &opt, nil
}

func encoderLevel(level int) (zstd.EncoderLevel, error) {
	switch level {
	case 1:
		return zstd.SpeedFastest, nil
	case 2:
		return zstd.SpeedDefault, nil
	case 3:
		return zstd.SpeedBetterCompression, nil
	case 4:
		return zstd.SpeedBestCompression, nil
	}
	return 0, fmt.Errorf("%w, %d", ErrUnknownLevel, level)
}

// Store implements publish.Store
type Store struct {
	db          *badger.DB
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	keepHistory bool
}

// Open opens or creates the store described by opt. If no options are provided a default is used.
func Open(opt *Options) (*Store, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	level, err := encoderLevel(opt.CompressionLevel)
	if err != nil {
		return nil, err
	}

	bopt := badger.DefaultOptions(opt.Path).WithLogger(nil)
	if opt.InMemory {
		bopt = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopt)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger, %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create encoder, %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create decoder, %w", err)
	}

	return &Store{
		db:          db,
		encoder:     encoder,
		decoder:     decoder,
		keepHistory: opt.KeepHistory,
	}, nil
}

func (s *Store) Close() error {
	s.decoder.Close()
	if err := s.encoder.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func pairPath(key observation.Key) string {
	return url.PathEscape(key.Disease) + "/" + url.PathEscape(key.Region)
}

func latestKey(key observation.Key) []byte {
	return []byte(prefixLatest + pairPath(key))
}

func historyPrefix(key observation.Key) []byte {
	return []byte(prefixHistory + pairPath(key) + "/")
}

func historyKey(run publish.Run) []byte {
	return append(historyPrefix(run.Key()),
		[]byte(run.GeneratedAt.UTC().Format(historyTimeLayout)+"/"+run.RunID.String())...)
}

func (s *Store) encode(run publish.Run) ([]byte, error) {
	b, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal run, %w", err)
	}
	return s.encoder.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

func (s *Store) decode(payload []byte) (publish.Run, error) {
	var run publish.Run
	b, err := s.decoder.DecodeAll(payload, nil)
	if err != nil {
		return run, fmt.Errorf("%w, %w", ErrCorruptPayload, err)
	}
	if err := json.Unmarshal(b, &run); err != nil {
		return run, fmt.Errorf("%w, %w", ErrCorruptPayload, err)
	}
	return run, nil
}

// Replace overwrites the latest run for the pair and appends it to the history if enabled. Both
// writes share one transaction.
func (s *Store) Replace(ctx context.Context, run publish.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := s.encode(run)
	if err != nil {
		return publish.Permanent(err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(latestKey(run.Key()), payload); err != nil {
			return err
		}
		if s.keepHistory {
			return txn.Set(historyKey(run), payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to write run for %s, %w", run.Key(), err)
	}
	return nil
}

// Latest returns the most recently replaced run for key
func (s *Store) Latest(ctx context.Context, key observation.Key) (*publish.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w, %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read run for %s, %w", key, err)
	}
	run, err := s.decode(payload)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// History returns every stored run for key ordered by generation time
func (s *Store) History(ctx context.Context, key observation.Key) ([]publish.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var runs []publish.Run
	err := s.db.View(func(txn *badger.Txn) error {
		iopt := badger.DefaultIteratorOptions
		iopt.Prefix = historyPrefix(key)
		it := txn.NewIterator(iopt)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			payload, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			run, err := s.decode(payload)
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read history for %s, %w", key, err)
	}
	return runs, nil
}

// Keys lists every pair with a stored run
func (s *Store) Keys(ctx context.Context) ([]observation.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []observation.Key
	err := s.db.View(func(txn *badger.Txn) error {
		iopt := badger.DefaultIteratorOptions
		iopt.Prefix = []byte(prefixLatest)
		iopt.PrefetchValues = false
		it := txn.NewIterator(iopt)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k, err := parsePair(strings.TrimPrefix(string(it.Item().Key()), prefixLatest))
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list stored pairs, %w", err)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

func parsePair(path string) (observation.Key, error) {
	disease, region, ok := strings.Cut(path, "/")
	if !ok {
		return observation.Key{}, fmt.Errorf("%w, malformed key %q", ErrCorruptPayload, path)
	}
	d, err := url.PathUnescape(disease)
	if err != nil {
		return observation.Key{}, err
	}
	r, err := url.PathUnescape(region)
	if err != nil {
		return observation.Key{}, err
	}
	return observation.Key{Disease: d, Region: r}, nil
}
