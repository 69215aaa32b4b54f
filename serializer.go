package spark8s

import (
	"strings"

	"github.com/pkg/errors"
)

// keySerializer is the serializer used for configuration secret keys.
var keySerializer = percentEncodingSerializer{escape: '_'}

// percentEncodingSerializer maps arbitrary configuration keys onto the
// character set accepted for secret data keys. The percent character itself
// is not part of that set, so the escape byte plays its part: every byte
// outside [A-Za-z0-9-], the escape byte included, is written as the escape
// byte followed by two uppercase hex digits. The mapping is a bijection, so
// keys containing characters such as '.' or '/' survive a round trip.
type percentEncodingSerializer struct {
	escape byte
}

const hexDigits = "0123456789ABCDEF"

func (s percentEncodingSerializer) plain(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-':
		return true
	}
	return false
}

func (s percentEncodingSerializer) serialize(key string) string {
	var out strings.Builder
	out.Grow(len(key))
	for i := 0; i < len(key); i++ {
		b := key[i]
		if s.plain(b) && b != s.escape {
			out.WriteByte(b)
			continue
		}
		out.WriteByte(s.escape)
		out.WriteByte(hexDigits[b>>4])
		out.WriteByte(hexDigits[b&0x0f])
	}
	return out.String()
}

func (s percentEncodingSerializer) deserialize(key string) (string, error) {
	var out strings.Builder
	out.Grow(len(key))
	for i := 0; i < len(key); i++ {
		b := key[i]
		if b != s.escape {
			out.WriteByte(b)
			continue
		}
		if i+2 >= len(key) {
			return "", errors.Errorf("truncated escape sequence in key %q", key)
		}
		hi := strings.IndexByte(hexDigits, key[i+1])
		lo := strings.IndexByte(hexDigits, key[i+2])
		if hi < 0 || lo < 0 {
			return "", errors.Errorf("invalid escape sequence %q in key %q", key[i:i+3], key)
		}
		out.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return out.String(), nil
}
