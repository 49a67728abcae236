// Package store persists the tracked pull requests and the whitelist in a
// leveldb database.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
	"github.com/simplesurance/prbuilder/internal/prtrigger"
)

const loggerName = "store"

const (
	prKeyPrefix        = "pr/"
	whitelistKeyPrefix = "whitelist/"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a leveldb backed key-value store.
// Records of a repository are stored with the key
// pr/<owner>/<repo>/<number>, whitelisted logins with the key
// whitelist/<login>.
type Store struct {
	db     *leveldb.DB
	logger *zap.Logger
}

func newStore(s storage.Storage) (*Store, error) {
	db, err := leveldb.Open(s, nil)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:     db,
		logger: zap.L().Named(loggerName),
	}, nil
}

// Open opens the database in the directory path, it is created if it does
// not exist.
func Open(path string) (*Store, error) {
	s, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening %s failed: %w", path, err)
	}

	return newStore(s)
}

// NewInMemory returns a Store that is not persisted.
func NewInMemory() (*Store, error) {
	return newStore(storage.NewMemStorage())
}

func (s *Store) Close() error {
	return s.db.Close()
}

func repoPrefix(repository string) []byte {
	return []byte(prKeyPrefix + repository + "/")
}

func recordKey(repository string, number int) []byte {
	// zero padded to iterate in pull request number order
	return []byte(fmt.Sprintf("%s%s/%010d", prKeyPrefix, repository, number))
}

// Save replaces the stored records of a repository with records.
func (s *Store) Save(repository string, records []*prtrigger.Record) error {
	batch := new(leveldb.Batch)
	current := make(map[string]struct{}, len(records))

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record of pull request %d failed: %w", rec.Number, err)
		}

		key := recordKey(repository, rec.Number)
		current[string(key)] = struct{}{}
		batch.Put(key, data)
	}

	iter := s.db.NewIterator(util.BytesPrefix(repoPrefix(repository)), nil)
	for iter.Next() {
		if _, exists := current[string(iter.Key())]; !exists {
			batch.Delete(bytes.Clone(iter.Key()))
		}
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterating stored records failed: %w", err)
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing records failed: %w", err)
	}

	s.logger.Debug(
		"records saved",
		logfields.RepositoryFullName(repository),
		logfields.Event("records_saved"),
		zap.Int("records", len(records)),
	)

	return nil
}

// Load returns the stored records of a repository.
// If no records are stored, an empty slice is returned.
func (s *Store) Load(repository string) ([]*prtrigger.Record, error) {
	var result []*prtrigger.Record

	iter := s.db.NewIterator(util.BytesPrefix(repoPrefix(repository)), nil)
	defer iter.Release()

	for iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decoding record %q failed: %w", string(iter.Key()), err)
		}

		result = append(result, rec)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating stored records failed: %w", err)
	}

	return result, nil
}

// storedRecord is the format of persisted records, it can also be decoded
// from records written by older versions.
type storedRecord struct {
	Number         int       `json:"id"`
	Author         string    `json:"author"`
	HeadCommit     string    `json:"head"`
	TargetBranch   string    `json:"target"`
	LastSeenUpdate time.Time `json:"updated"`
	// Mergeable is a boolean in records of older versions.
	Mergeable    jsoniter.RawMessage `json:"mergeable"`
	Accepted     bool                `json:"accepted"`
	PendingBuild bool                `json:"shouldRun"`
	// AskedForApproval is only written by older versions, it is ignored.
	AskedForApproval bool `json:"askedForApproval"`
}

func decodeMergeable(raw jsoniter.RawMessage) (prtrigger.Mergeability, error) {
	switch strings.TrimSpace(string(raw)) {
	case "", "null":
		return prtrigger.MergeabilityUnknown, nil
	case "true":
		return prtrigger.MergeabilityMergeable, nil
	case "false":
		return prtrigger.MergeabilityConflicting, nil
	}

	var result prtrigger.Mergeability
	if err := json.Unmarshal(raw, &result); err != nil {
		return prtrigger.MergeabilityUnknown, fmt.Errorf("invalid mergeable value %q: %w", string(raw), err)
	}

	return result, nil
}

func decodeRecord(data []byte) (*prtrigger.Record, error) {
	var stored storedRecord

	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}

	mergeable, err := decodeMergeable(stored.Mergeable)
	if err != nil {
		return nil, err
	}

	return &prtrigger.Record{
		Number:         stored.Number,
		Author:         stored.Author,
		HeadCommit:     stored.HeadCommit,
		TargetBranch:   stored.TargetBranch,
		LastSeenUpdate: stored.LastSeenUpdate,
		Mergeable:      mergeable,
		Accepted:       stored.Accepted,
		PendingBuild:   stored.PendingBuild,
	}, nil
}

// AddWhitelisted stores a whitelisted login.
func (s *Store) AddWhitelisted(login string) error {
	if login == "" {
		return errors.New("login is empty")
	}

	return s.db.Put([]byte(whitelistKeyPrefix+login), nil, &opt.WriteOptions{Sync: true})
}

// Whitelisted returns all stored whitelisted logins in lexical order.
func (s *Store) Whitelisted() ([]string, error) {
	var result []string

	iter := s.db.NewIterator(util.BytesPrefix([]byte(whitelistKeyPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		result = append(result, strings.TrimPrefix(string(iter.Key()), whitelistKeyPrefix))
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Strings(result)

	return result, nil
}
