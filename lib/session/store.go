// Package session caches issued tokens in the OS keyring so repeated CLI
// invocations do not force a fresh sign-in.
package session

import (
	"encoding/json"
	"time"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/outpost-labs/okta-idx-go/lib/idx"
)

const KeyringItemKey = "token-cache"
const KeyringItemLabel = "okta-idx token cache"

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// CachedToken is a token plus the wall-clock instant it stops being valid.
type CachedToken struct {
	idx.Token
	ExpiresAt time.Time
}

func (t *CachedToken) Expired() bool {
	return t.ExpiresAt.Before(time.Now())
}

type storeDb struct {
	Tokens map[string]CachedToken
}

// Store keeps all cached tokens in a single keyring item, keyed by profile
// name. A single item means the user authorizes keychain access once per
// binary rather than once per profile.
type Store struct {
	Keyring keyring.Keyring
}

func (s *Store) getDb() (*storeDb, error) {
	item, err := s.Keyring.Get(KeyringItemKey)
	if err != nil {
		return nil, err
	}

	var unmarshalled storeDb
	if err := json.Unmarshal(item.Data, &unmarshalled); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal db from keyring item")
	}

	return &unmarshalled, nil
}

func (s *Store) Get(profile string) (*CachedToken, error) {
	currentDb, err := s.getDb()
	if err != nil {
		log.Debugf("cache get `%s`: miss (read error): %s", profile, err)
		return nil, ErrTokenNotFound
	}

	token, ok := currentDb.Tokens[profile]
	if !ok {
		log.Debugf("cache get `%s`: miss", profile)
		return nil, ErrTokenNotFound
	}

	if token.Expired() {
		log.Debugf("cache get `%s`: expired", profile)
		return nil, ErrTokenExpired
	}

	log.Debugf("cache get `%s`: hit", profile)
	return &token, nil
}

func (s *Store) Put(profile string, token *idx.Token) error {
	currentDb, err := s.getDb()
	if err == keyring.ErrKeyNotFound || (err == nil && currentDb.Tokens == nil) {
		log.Debug("cache put: new db")
		currentDb = &storeDb{
			Tokens: map[string]CachedToken{},
		}
	} else if err != nil {
		log.Debugf("cache put `%s`: error (reading): %s", profile, err)
		return err
	}

	currentDb.Tokens[profile] = CachedToken{
		Token:     *token,
		ExpiresAt: time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}

	bytes, err := json.Marshal(*currentDb)
	if err != nil {
		log.Debugf("cache put `%s`: error (marshalling): %s", profile, err)
		return err
	}

	item := keyring.Item{
		Key:                         KeyringItemKey,
		Label:                       KeyringItemLabel,
		Data:                        bytes,
		KeychainNotTrustApplication: false,
	}
	if err := s.Keyring.Set(item); err != nil {
		log.Debugf("cache put `%s`: error (writing): %s", profile, err)
		return err
	}
	log.Debugf("cache put `%s`: success", profile)

	return nil
}

func (s *Store) Delete(profile string) error {
	currentDb, err := s.getDb()
	if err == keyring.ErrKeyNotFound {
		return nil
	} else if err != nil {
		return err
	}

	delete(currentDb.Tokens, profile)

	bytes, err := json.Marshal(*currentDb)
	if err != nil {
		return err
	}
	return s.Keyring.Set(keyring.Item{
		Key:   KeyringItemKey,
		Label: KeyringItemLabel,
		Data:  bytes,
	})
}
