package storage

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	randv2 "math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

// KeyScheme selects how object keys are partitioned.
type KeyScheme string

const (
	// SchemeRandom: prefix/group0/XX/YY/ZZ/id, three levels of 36^2 buckets
	SchemeRandom KeyScheme = "random"
	// SchemeTime: prefix/yyyyMM/dd/HH/id
	SchemeTime KeyScheme = "time"
	// SchemeDate: prefix/yyyy/MM/dd/id, the historical local-disk layout
	SchemeDate KeyScheme = "date"
)

const (
	randomGroup    = "group0"
	bucketAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// KeyGenerator builds object keys. It is immutable and safe for concurrent use.
type KeyGenerator struct {
	scheme KeyScheme
	loc    *time.Location
	now    func() time.Time
	newID  func() string
}

// KeyOption customises a KeyGenerator
type KeyOption func(*KeyGenerator)

// WithKeyClock overrides the clock used by time based schemes.
func WithKeyClock(now func() time.Time) KeyOption {
	return func(g *KeyGenerator) { g.now = now }
}

// WithIDSource overrides the base id generator.
func WithIDSource(newID func() string) KeyOption {
	return func(g *KeyGenerator) { g.newID = newID }
}

func NewKeyGenerator(scheme KeyScheme, loc *time.Location, opts ...KeyOption) (*KeyGenerator, error) {
	switch scheme {
	case SchemeRandom, SchemeTime, SchemeDate:
	case "":
		scheme = SchemeRandom
	default:
		return nil, fmt.Errorf("%w: unknown key scheme %q", ErrConfiguration, scheme)
	}
	if loc == nil {
		loc = time.UTC
	}

	g := &KeyGenerator{
		scheme: scheme,
		loc:    loc,
		now:    time.Now,
		newID:  NewObjectID,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *KeyGenerator) Scheme() KeyScheme {
	return g.scheme
}

// Generate returns a new key under prefix. Only the extension of
// originalFileName is used; directories in the name never reach the key.
func (g *KeyGenerator) Generate(prefix, originalFileName string) string {
	var b strings.Builder
	if prefix = CleanPrefix(prefix); prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('/')
	}

	switch g.scheme {
	case SchemeTime:
		b.WriteString(g.now().In(g.loc).Format("200601/02/15"))
		b.WriteByte('/')
	case SchemeDate:
		b.WriteString(g.now().In(g.loc).Format("2006/01/02"))
		b.WriteByte('/')
	default:
		b.WriteString(randomGroup)
		for range 3 {
			b.WriteByte('/')
			b.WriteString(randomBucket())
		}
		b.WriteByte('/')
	}

	b.WriteString(g.newID())
	b.WriteString(Ext(originalFileName))
	return b.String()
}

func randomBucket() string {
	return string([]byte{
		bucketAlphabet[randv2.IntN(len(bucketAlphabet))],
		bucketAlphabet[randv2.IntN(len(bucketAlphabet))],
	})
}

var (
	objectIDCounter atomic.Uint32
	objectIDProcess [5]byte
)

func init() {
	var seed [4]byte
	if _, err := rand.Read(objectIDProcess[:]); err != nil {
		panic(fmt.Errorf("%w: %v", ErrKeyGeneration, err))
	}
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Errorf("%w: %v", ErrKeyGeneration, err))
	}
	objectIDCounter.Store(binary.BigEndian.Uint32(seed[:]))
}

// NewObjectID returns a 24 character hex id: 4 bytes of unix seconds,
// 5 bytes fixed per process and a 3 byte counter.
func NewObjectID() string {
	var id [12]byte
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], objectIDProcess[:])
	c := objectIDCounter.Add(1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return hex.EncodeToString(id[:])
}

// CleanPrefix drops empty, relative and backslash-bearing segments from prefix.
func CleanPrefix(prefix string) string {
	segs := strings.Split(prefix, "/")
	kept := segs[:0]
	for _, seg := range segs {
		if seg == "" || seg == "." || strings.Contains(seg, "..") || strings.ContainsRune(seg, '\\') {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}

// BaseName strips any directory part, accepting both separators.
// An empty result falls back to a generated id.
func BaseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return NewObjectID()
	}
	return name
}

// Ext returns the trailing extension of name including the dot, or "".
func Ext(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return ""
	}
	ext := name[dot:]
	for _, r := range ext {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ""
		}
	}
	return ext
}

// ValidateKey rejects keys that could escape a root directory or bucket.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "/"):
		return fmt.Errorf("%w: leading slash", ErrInvalidKey)
	case strings.ContainsRune(key, '\\'):
		return fmt.Errorf("%w: backslash", ErrInvalidKey)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: NUL byte", ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: relative segment", ErrInvalidKey)
		}
	}
	return nil
}
