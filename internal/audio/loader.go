package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNoResolver is returned for remote catalog locators when no resolver is
// configured.
var ErrNoResolver = errors.New("no remote resolver configured")

// LoadError reports a source that could not be resolved or decoded.
type LoadError struct {
	Locator string
	Reason  string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s", e.Locator, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Resolver turns a remote catalog locator into something FFmpeg can open.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// Loader resolves and decodes sources, keeping recently used tracks in an
// LRU so reloading a track is instant.
type Loader struct {
	resolver Resolver
	cache    *lru.Cache[string, *Buffer]

	decodeFile func(ctx context.Context, path string) (*Buffer, error)
	decodeURL  func(ctx context.Context, url string) (*Buffer, error)
}

// NewLoader creates a loader caching up to cacheSize decoded tracks. resolver
// may be nil, in which case remote locators must already be URLs.
func NewLoader(resolver Resolver, cacheSize int) (*Loader, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New[string, *Buffer](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}
	return &Loader{
		resolver:   resolver,
		cache:      cache,
		decodeFile: DecodeFile,
		decodeURL:  DecodeFFmpeg,
	}, nil
}

// Load returns the decoded source for locator.
func (l *Loader) Load(ctx context.Context, locator string, kind SourceKind) (*Buffer, error) {
	if locator == "" {
		return nil, &LoadError{Locator: locator, Reason: "empty locator"}
	}
	key := string(kind) + ":" + locator
	if buf, ok := l.cache.Get(key); ok {
		return buf, nil
	}

	var (
		buf *Buffer
		err error
	)
	switch kind {
	case SourceRemote:
		buf, err = l.loadRemote(ctx, locator)
	default:
		buf, err = l.decodeFile(ctx, locator)
	}
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &LoadError{Locator: locator, Reason: err.Error(), Err: err}
	}
	if buf.Len() == 0 {
		return nil, &LoadError{Locator: locator, Reason: "no audio decoded"}
	}

	l.cache.Add(key, buf)
	log.Printf("Loaded %s (%s, %.1fs)", locator, kind, buf.Duration().Seconds())
	return buf, nil
}

func (l *Loader) loadRemote(ctx context.Context, locator string) (*Buffer, error) {
	url := locator
	if !isURL(locator) {
		if l.resolver == nil {
			return nil, &LoadError{Locator: locator, Reason: ErrNoResolver.Error(), Err: ErrNoResolver}
		}
		resolved, err := l.resolver.Resolve(ctx, locator)
		if err != nil {
			return nil, &LoadError{Locator: locator, Reason: "resolve: " + err.Error(), Err: err}
		}
		url = resolved
	}
	return l.decodeURL(ctx, url)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
