// Package kv is the small key-value index behind the checkpoint registry.
// Keys are paths of string segments such as {"checkpoint", "<id>"}; they are
// joined with a separator byte before reaching the backing engine, so a
// List over {"checkpoint"} visits exactly the entries stored beneath it.
//
// Two engines are provided: Badger (BadgerDB v4, on disk or in memory) for
// the CLI and Memory for tests.
package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("kv: not found")

	// ErrInvalidKey is returned for empty keys and for segments that
	// contain the separator.
	ErrInvalidKey = errors.New("kv: invalid key")
)

// Key is a hierarchical key.
type Key []string

func (k Key) String() string { return strings.Join(k, string(DefaultSeparator)) }

// Entry is one key-value pair yielded by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path keys. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields the entries strictly below prefix in lexicographic
	// order of their encoded keys. An empty prefix lists everything.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	Close() error
}

// DefaultSeparator joins key segments.
const DefaultSeparator byte = ':'

// Options is shared by both engines.
type Options struct {
	// Separator overrides DefaultSeparator when non-zero.
	Separator byte
}

func (o *Options) sep() byte {
	if o == nil || o.Separator == 0 {
		return DefaultSeparator
	}
	return o.Separator
}

func (o *Options) encode(k Key) ([]byte, error) {
	if len(k) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	return o.join(k)
}

// prefix encodes a List prefix. The trailing separator keeps {"a", "b"}
// from matching "a:bc".
func (o *Options) prefix(k Key) ([]byte, error) {
	if len(k) == 0 {
		return nil, nil
	}
	p, err := o.join(k)
	if err != nil {
		return nil, err
	}
	return append(p, o.sep()), nil
}

func (o *Options) join(k Key) ([]byte, error) {
	s := o.sep()
	var buf bytes.Buffer
	for i, seg := range k {
		if strings.IndexByte(seg, s) >= 0 {
			return nil, fmt.Errorf("%w: segment %q contains %q", ErrInvalidKey, seg, s)
		}
		if i > 0 {
			buf.WriteByte(s)
		}
		buf.WriteString(seg)
	}
	return buf.Bytes(), nil
}

func (o *Options) decode(b []byte) Key {
	return Key(strings.Split(string(b), string(o.sep())))
}

// failed yields err once.
func failed(err error) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) { yield(Entry{}, err) }
}
