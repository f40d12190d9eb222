// Package securestore implements the secure-store trait the wallet core
// depends on for its mnemonic, seed, and NUT-22 access tokens: an
// AES-256-GCM envelope over a bbolt-backed store, keyed by a passphrase run
// through PBKDF2-HMAC-SHA-256.
package securestore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocashu/wallet/crypto"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/pbkdf2"
	"crypto/sha256"
)

var (
	mnemonicBucket    = []byte("mnemonic")
	seedBucket        = []byte("seed")
	accessTokenBucket = []byte("access_tokens")

	mnemonicKey = []byte("mnemonic")
	seedKey     = []byte("seed")
)

const pbkdf2Iterations = 210_000

// ErrNoData is returned when a Load call finds nothing stored for the key.
var ErrNoData = errors.New("no data in secure store")

// Store is a passphrase-protected, file-backed implementation of the
// wallet's secure-store trait.
type Store struct {
	db  *bbolt.DB
	key []byte // derived AES-256 key, held only for the store's lifetime
}

// Open opens (creating if necessary) the bbolt file at path and derives the
// envelope key from passphrase and a random-but-persisted salt.
func Open(path string, passphrase string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening secure store: %v", err)
	}

	var salt []byte
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{mnemonicBucket, seedBucket, accessTokenBucket, []byte("salt")} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		saltBucket := tx.Bucket([]byte("salt"))
		salt = saltBucket.Get([]byte("salt"))
		if salt == nil {
			s, err := crypto.RandomBytes(16)
			if err != nil {
				return err
			}
			if err := saltBucket.Put([]byte("salt"), s); err != nil {
				return err
			}
			salt = s
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
	return &Store{db: db, key: key}, nil
}

func (s *Store) Close() error {
	crypto.Wipe(s.key)
	return s.db.Close()
}

func (s *Store) seal(associatedData, plaintext []byte) ([]byte, error) {
	return crypto.SealAESGCM(s.key, plaintext, associatedData)
}

func (s *Store) open(associatedData, sealed []byte) ([]byte, error) {
	return crypto.OpenAESGCM(s.key, sealed, associatedData)
}

// SaveMnemonic persists the BIP39 mnemonic phrase.
func (s *Store) SaveMnemonic(mnemonic string) error {
	sealed, err := s.seal([]byte("mnemonic"), []byte(mnemonic))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(mnemonicBucket).Put(mnemonicKey, sealed)
	})
}

// LoadMnemonic retrieves the persisted mnemonic, or ErrNoData.
func (s *Store) LoadMnemonic() (string, error) {
	var sealed []byte
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(mnemonicBucket).Get(mnemonicKey)
		if v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if sealed == nil {
		return "", ErrNoData
	}
	plaintext, err := s.open([]byte("mnemonic"), sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SaveSeed persists the raw 64-byte BIP39 seed.
func (s *Store) SaveSeed(seed []byte) error {
	sealed, err := s.seal([]byte("seed"), seed)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(seedBucket).Put(seedKey, sealed)
	})
}

// LoadSeed retrieves the persisted seed, or ErrNoData.
func (s *Store) LoadSeed() ([]byte, error) {
	var sealed []byte
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(seedBucket).Get(seedKey)
		if v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if sealed == nil {
		return nil, ErrNoData
	}
	return s.open([]byte("seed"), sealed)
}

// accessTokenRecord is the JSON payload sealed per mint URL.
type accessTokenRecord struct {
	Token  string   `json:"token,omitempty"`
	Proofs []string `json:"proofs,omitempty"`
}

// SaveAccessToken persists a NUT-22 bearer token (or blind-auth proof list)
// for the given mint URL.
func (s *Store) SaveAccessToken(mintURL, token string) error {
	rec := accessTokenRecord{Token: token}
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	sealed, err := s.seal([]byte(mintURL), plaintext)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accessTokenBucket).Put([]byte(mintURL), sealed)
	})
}

// LoadAccessToken retrieves the bearer token stored for mintURL, or
// ErrNoData.
func (s *Store) LoadAccessToken(mintURL string) (string, error) {
	var sealed []byte
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(accessTokenBucket).Get([]byte(mintURL))
		if v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if sealed == nil {
		return "", ErrNoData
	}
	plaintext, err := s.open([]byte(mintURL), sealed)
	if err != nil {
		return "", err
	}
	var rec accessTokenRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return "", err
	}
	return rec.Token, nil
}

// DeleteAccessToken removes the stored token for mintURL, if any.
func (s *Store) DeleteAccessToken(mintURL string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accessTokenBucket).Delete([]byte(mintURL))
	})
}

// ClearAll wipes every bucket this store manages.
func (s *Store) ClearAll() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{mnemonicBucket, seedBucket, accessTokenBucket} {
			if err := tx.DeleteBucket(b); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
}

// HasData reports whether a mnemonic has been saved.
func (s *Store) HasData() bool {
	_, err := s.LoadMnemonic()
	return err == nil
}
