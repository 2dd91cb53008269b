// Package store persists the engine state as values indexed by a prefix and
// a key.
package store

import (
	"context"

	"github.com/juju/errors"

	"github.com/warriorguo/loadflow/utils"
)

type Store interface {
	// Get returns nil without error for a missing key.
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * removing a missing prefix + key does NOT return an error
	 */
	Remove(ctx context.Context, prefix, key string) error
	// List iterates the keys of the prefix in ascending order, until the
	// iterator returns false.
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
	// RemovePrefix removes every key of the prefix.
	RemovePrefix(ctx context.Context, prefix string) error
	Close() error
}

// GetObject decodes the JSON value of the key into o. It returns false when
// the key is missing.
func GetObject(ctx context.Context, s Store, prefix, key string, o any) (bool, error) {
	b, err := s.Get(ctx, prefix, key)
	if err != nil {
		return false, errors.Trace(err)
	}
	if b == nil {
		return false, nil
	}
	if err := utils.Unserialize(b, o); err != nil {
		return false, errors.Annotatef(err, "decode %s%s", prefix, key)
	}
	return true, nil
}

// SetObject stores o encoded in JSON.
func SetObject(ctx context.Context, s Store, prefix, key string, o any) error {
	b, err := utils.Serialize(o)
	if err != nil {
		return errors.Annotatef(err, "encode %s%s", prefix, key)
	}
	return errors.Trace(s.Set(ctx, prefix, key, b))
}

// Keys lists all the keys of the prefix.
func Keys(ctx context.Context, s Store, prefix string) ([]string, error) {
	var keys []string
	err := s.List(ctx, prefix, func(key string) bool {
		keys = append(keys, key)
		return true
	})
	return keys, errors.Trace(err)
}
