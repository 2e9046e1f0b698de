package hyveid

import (
	"bytes"
	"errors"
	"strings"
)

// ErrInvalidTopic is returned when a Key's topic contains the '/' separator,
// which would make the wire encoding ambiguous to decode.
var ErrInvalidTopic = errors.New("hyveid: topic must not contain '/'")

// Key is a DHT key: a UTF-8 topic paired with opaque bytes. On the wire it
// is encoded as "topic/bytes"; the topic is forbidden from containing '/' so
// that decoding is unambiguous (spec §3, §8 scenario 1/2).
type Key struct {
	Topic string
	Bytes []byte
}

// IntoBytes encodes k as "topic/bytes". It rejects topics containing '/' and
// empty topics, since an empty topic cannot be told apart from a missing one
// on decode.
func (k Key) IntoBytes() ([]byte, error) {
	if k.Topic == "" || strings.Contains(k.Topic, "/") {
		return nil, ErrInvalidTopic
	}
	buf := make([]byte, 0, len(k.Topic)+1+len(k.Bytes))
	buf = append(buf, k.Topic...)
	buf = append(buf, '/')
	buf = append(buf, k.Bytes...)
	return buf, nil
}

// KeyFromBytes decodes the "topic/bytes" wire form produced by IntoBytes.
func KeyFromBytes(b []byte) (Key, error) {
	i := bytes.IndexByte(b, '/')
	if i < 0 {
		return Key{}, ErrInvalidTopic
	}
	topic := string(b[:i])
	if strings.Contains(topic, "/") {
		return Key{}, ErrInvalidTopic
	}
	rest := b[i+1:]
	data := make([]byte, len(rest))
	copy(data, rest)
	return Key{Topic: topic, Bytes: data}, nil
}
