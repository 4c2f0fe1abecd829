package kv

import (
	"bytes"
	"errors"
)

// Key layout, parts separated by 0x00:
//
//	t actor shop trade   per-actor record
//	s shop trade actor   index of per-actor records by shop, empty value
//	p shop trade         pooled record
const sep = 0x00

const (
	tradePrefix = 't'
	indexPrefix = 's'
	poolPrefix  = 'p'
)

var errBadKey = errors.New("malformed key")

func key(kind byte, parts ...string) []byte {
	n := 1
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	b = append(b, kind)
	for _, p := range parts {
		b = append(b, sep)
		b = append(b, p...)
	}
	return b
}

// prefix is key with a trailing separator, so "ab" does not match "abc".
func prefix(kind byte, parts ...string) []byte {
	return append(key(kind, parts...), sep)
}

func split(k []byte, n int) ([]string, error) {
	parts := bytes.Split(k, []byte{sep})
	if len(parts) != n+1 {
		return nil, errBadKey
	}
	out := make([]string, n)
	for i := range out {
		out[i] = string(parts[i+1])
	}
	return out, nil
}
