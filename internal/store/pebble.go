package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/papertrade/portfolio-game/internal/model"
)

// PebbleStore implements Store on an embedded Pebble database, for
// single-node deployments that want durability without a database server.
//
// Keys:
//
//	p/<username>                   profile JSON
//	t/<8-byte id>                  transaction JSON
//	u/<4-byte len><username><8-byte id>  per-user transaction index (empty value)
//	r/<ref>                        8-byte transaction id
type PebbleStore struct {
	db *pebble.DB

	// mu serializes the check-then-write paths (Create, Append) and guards
	// lastID, since Pebble has no conditional put.
	mu     sync.Mutex
	lastID int64
}

// NewPebbleStore opens (or creates) a store at path.
func NewPebbleStore(path string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	s := &PebbleStore{db: db}
	if err := s.loadLastID(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func kProfile(username string) []byte { return append([]byte("p/"), username...) }
func kTx(id int64) []byte             { return append([]byte("t/"), idKey(id)...) }
func kRef(ref string) []byte          { return append([]byte("r/"), ref...) }
func kUserTx(username string, id int64) []byte {
	return append(userTxPrefix(username), idKey(id)...)
}

// userTxPrefix length-prefixes the username so no user's range can
// contain another's, whatever bytes the names hold.
func userTxPrefix(username string) []byte {
	k := binary.BigEndian.AppendUint32([]byte("u/"), uint32(len(username)))
	return append(k, username...)
}

func idKey(id int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id))
	return k[:]
}

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) loadLastID() error {
	prefix := []byte("t/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() {
		key := iter.Key()
		s.lastID = int64(binary.BigEndian.Uint64(key[len(prefix):]))
	}
	return nil
}

func (s *PebbleStore) Get(_ context.Context, username string) (*model.UserProfile, error) {
	return s.getProfile(username)
}

func (s *PebbleStore) getProfile(username string) (*model.UserProfile, error) {
	data, closer, err := s.db.Get(kProfile(username))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", username, err)
	}
	defer closer.Close()

	var p model.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", username, err)
	}
	if p.Portfolio == nil {
		p.Portfolio = model.Portfolio{}
	}
	return &p, nil
}

func (s *PebbleStore) putProfile(p *model.UserProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.Username, err)
	}
	if err := s.db.Set(kProfile(p.Username), data, pebble.Sync); err != nil {
		return fmt.Errorf("put profile %s: %w", p.Username, err)
	}
	return nil
}

func (s *PebbleStore) Create(_ context.Context, p *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProfile(p.Username); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.putProfile(p)
}

func (s *PebbleStore) Update(_ context.Context, username string, p *model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getProfile(username); err != nil {
		return err
	}
	c := p.Clone()
	c.Username = username
	return s.putProfile(c)
}

func (s *PebbleStore) List(_ context.Context) ([]model.UserProfile, error) {
	prefix := []byte("p/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var profiles []model.UserProfile
	for iter.First(); iter.Valid(); iter.Next() {
		var p model.UserProfile
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", iter.Key()[len(prefix):], err)
		}
		if p.Portfolio == nil {
			p.Portfolio = model.Portfolio{}
		}
		profiles = append(profiles, p)
	}
	return profiles, iter.Error()
}

func (s *PebbleStore) Append(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Ref != "" {
		data, closer, err := s.db.Get(kRef(tx.Ref))
		if err == nil {
			tx.ID = int64(binary.BigEndian.Uint64(data))
			closer.Close()
			return nil
		}
		if !errors.Is(err, pebble.ErrNotFound) {
			return fmt.Errorf("append transaction %s: %w", tx.Ref, err)
		}
	}

	rec := *tx
	rec.ID = s.lastID + 1
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}

	// Record, user index and ref mapping land together or not at all.
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(kTx(rec.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(kUserTx(rec.Username, rec.ID), nil, nil); err != nil {
		return err
	}
	if rec.Ref != "" {
		if err := b.Set(kRef(rec.Ref), idKey(rec.ID), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.Ref, err)
	}

	s.lastID = rec.ID
	tx.ID = rec.ID
	return nil
}

func (s *PebbleStore) ListByUser(_ context.Context, username string) ([]model.Transaction, error) {
	prefix := userTxPrefix(username)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var txs []model.Transaction
	for iter.First(); iter.Valid(); iter.Next() {
		id := int64(binary.BigEndian.Uint64(iter.Key()[len(prefix):]))
		data, closer, err := s.db.Get(kTx(id))
		if err != nil {
			return nil, fmt.Errorf("load transaction %d: %w", id, err)
		}
		var tx model.Transaction
		err = json.Unmarshal(data, &tx)
		closer.Close()
		if err != nil {
			return nil, fmt.Errorf("decode transaction %d: %w", id, err)
		}
		txs = append(txs, tx)
	}
	return txs, iter.Error()
}
