package dictionary

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexcount/pkg/errors"
)

// DecadePlaceholder is substituted in dictionary paths by ExpandPath.
const DecadePlaceholder = "{decade}"

// Load reads one term per line from path. Any failure, including a term of
// more than MaxTermLength tokens, is returned as a *DictionaryError.
func Load(path, name, sep string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &apperrors.DictionaryError{Perspective: name, Path: path, Err: err}
	}
	defer f.Close()

	var raw []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		raw = append(raw, line)
	}
	if err := sc.Err(); err != nil {
		return nil, &apperrors.DictionaryError{Perspective: name, Path: path, Err: err}
	}

	d, err := New(name, sep, raw)
	if err != nil {
		return nil, &apperrors.DictionaryError{Perspective: name, Path: path, Err: err}
	}
	return d, nil
}

// ExpandPath replaces DecadePlaceholder with the decade range written with
// underscores. An empty decade leaves path untouched.
func ExpandPath(path, decade string) string {
	if decade == "" || !strings.Contains(path, DecadePlaceholder) {
		return path
	}
	return strings.ReplaceAll(path, DecadePlaceholder, strings.ReplaceAll(decade, "-", "_"))
}

// Loader loads dictionaries once per path and shares the result. Concurrent
// requests for the same file wait on a single read.
type Loader struct {
	sep    string
	group  singleflight.Group
	mu     sync.RWMutex
	cache  map[string]*Dictionary
	reads  atomic.Int64
	logger *slog.Logger
}

func NewLoader(sep string) *Loader {
	return &Loader{
		sep:    sep,
		cache:  make(map[string]*Dictionary),
		logger: slog.Default().With("component", "dictionary-loader"),
	}
}

func (l *Loader) cached(key string) (*Dictionary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.cache[key]
	return d, ok
}

// Get returns the dictionary for name loaded from path.
func (l *Loader) Get(name, path string) (*Dictionary, error) {
	key := name + "\x00" + path
	if d, ok := l.cached(key); ok {
		return d, nil
	}

	v, err, shared := l.group.Do(key, func() (any, error) {
		// A flight that finished between the check above and Do has
		// already filled the cache.
		if d, ok := l.cached(key); ok {
			return d, nil
		}
		l.reads.Add(1)
		d, err := Load(path, name, l.sep)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[key] = d
		l.mu.Unlock()
		l.logger.Info("dictionary loaded", "perspective", name, "path", path, "terms", d.Len())
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger.Debug("dictionary load shared", "perspective", name)
	}
	return v.(*Dictionary), nil
}

// Reads returns how many dictionary files were actually read.
func (l *Loader) Reads() int {
	return int(l.reads.Load())
}

// Source names a perspective and the file its terms come from.
type Source struct {
	Name string
	Path string
}

// LoadStore loads every source concurrently, expanding the decade
// placeholder, and builds a Store in source order. A failing dictionary
// aborts the load.
func (l *Loader) LoadStore(sources []Source, decade string) (*Store, error) {
	dicts := make([]*Dictionary, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			d, err := l.Get(src.Name, ExpandPath(src.Path, decade))
			if err != nil {
				return err
			}
			dicts[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s, err := NewStore(l.sep, dicts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDictionaryLoad, err)
	}
	return s, nil
}
