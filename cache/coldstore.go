package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/opd-ai/peercore/peer"
	bolt "go.etcd.io/bbolt"
)

var peersBucket = []byte("peers")

// coldStore is the PeerCache's persistent tier: CachedPeers evicted from
// the hot tier are moved here while it has room, keyed by peer_id, until
// they are promoted back, swept as expired, or explicitly removed.
type coldStore struct {
	db          *bolt.DB
	path        string
	ephemeral   bool
	compression bool
}

func openColdStore(path string, compression bool) (*coldStore, error) {
	ephemeral := path == ""
	if ephemeral {
		f, err := os.CreateTemp("", "peercore-cache-*.db")
		if err != nil {
			return nil, fmt.Errorf("cache: create temp cold store: %w", err)
		}
		path = f.Name()
		f.Close()
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open cold store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(peersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init cold store bucket: %w", err)
	}

	return &coldStore{db: db, path: path, ephemeral: ephemeral, compression: compression}, nil
}

func (s *coldStore) close() error {
	err := s.db.Close()
	if s.ephemeral {
		os.Remove(s.path)
	}
	return err
}

func (s *coldStore) put(id string, c *peer.CachedPeer) error {
	raw, err := s.encode(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).Put([]byte(id), raw)
	})
}

func (s *coldStore) get(id string) (*peer.CachedPeer, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(peersBucket).Get([]byte(id))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	c, err := s.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *coldStore) remove(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).Delete([]byte(id))
	})
}

func (s *coldStore) clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(peersBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(peersBucket)
		return err
	})
}

func (s *coldStore) size() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func (s *coldStore) all() (map[string]*peer.CachedPeer, error) {
	out := make(map[string]*peer.CachedPeer)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(k, v []byte) error {
			c, err := s.decode(v)
			if err != nil {
				return err
			}
			out[string(k)] = c
			return nil
		})
	})
	return out, err
}

func (s *coldStore) encode(c *peer.CachedPeer) ([]byte, error) {
	var buf bytes.Buffer
	if s.compression {
		gw := gzip.NewWriter(&buf)
		if err := gob.NewEncoder(gw).Encode(c); err != nil {
			return nil, fmt.Errorf("cache: encode cold entry: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("cache: flush compressed entry: %w", err)
		}
		return buf.Bytes(), nil
	}
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("cache: encode cold entry: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *coldStore) decode(raw []byte) (*peer.CachedPeer, error) {
	var c peer.CachedPeer
	if s.compression {
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("cache: open compressed entry: %w", err)
		}
		defer gr.Close()
		if err := gob.NewDecoder(gr).Decode(&c); err != nil && err != io.EOF {
			return nil, fmt.Errorf("cache: decode cold entry: %w", err)
		}
		return &c, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&c); err != nil {
		return nil, fmt.Errorf("cache: decode cold entry: %w", err)
	}
	return &c, nil
}
