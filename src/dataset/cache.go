package dataset

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gota/gota/dataframe"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"KSIDashboard/src/storage"
)

// Reader reads at most maxRows data rows of the raw source.
type Reader interface {
	Read(maxRows int) (dataframe.DataFrame, error)
}

// LoadObserver receives the outcome of every parse the cache performs.
type LoadObserver interface {
	ObserveLoad(elapsed time.Duration, stats Stats, err error)
}

type cacheKey struct {
	maxRows    int
	generation uint64
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%d/%d", k.maxRows, k.generation)
}

// Cache memoizes Load per (maxRows, generation). Construct one per process and
// pass it to whoever needs the table.
type Cache struct {
	source   Reader
	columns  Columns
	logger   *storage.Logger
	observer LoadObserver

	mu         sync.Mutex
	generation uint64
	tables     map[cacheKey]*Table
	group      singleflight.Group
}

func NewCache(source Reader, columns Columns, logger *storage.Logger, observer LoadObserver) *Cache {
	if logger == nil {
		logger = storage.NewNopLogger()
	}
	return &Cache{
		source:   source,
		columns:  columns,
		logger:   logger,
		observer: observer,
		tables:   make(map[cacheKey]*Table),
	}
}

// Load returns the cleaned table for maxRows, parsing the source only on the
// first call for the current generation. Errors wrap ErrDataUnavailable and
// are not cached.
func (c *Cache) Load(maxRows int) (*Table, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("%w: max rows must be positive, got %d", ErrDataUnavailable, maxRows)
	}

	c.mu.Lock()
	key := cacheKey{maxRows: maxRows, generation: c.generation}
	if t, ok := c.tables[key]; ok {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		c.mu.Lock()
		if t, ok := c.tables[key]; ok {
			c.mu.Unlock()
			return t, nil
		}
		c.mu.Unlock()

		t, err := c.parse(maxRows)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generation == key.generation {
			c.tables[key] = t
		}
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

func (c *Cache) parse(maxRows int) (*Table, error) {
	start := time.Now()
	t, err := c.read(maxRows)
	elapsed := time.Since(start)

	if c.observer != nil {
		var stats Stats
		if t != nil {
			stats = t.stats
		}
		c.observer.ObserveLoad(elapsed, stats, err)
	}

	if err != nil {
		c.logger.Error("dataset load failed", zap.Int("max_rows", maxRows), zap.Error(err))
		return nil, err
	}

	c.logger.Info("dataset loaded",
		zap.Int("max_rows", maxRows),
		zap.Int("read", t.stats.Read),
		zap.Int("kept", t.stats.Kept),
		zap.Int("dropped", t.stats.Dropped),
		zap.Int("coerced", t.stats.Coerced),
		zap.Duration("elapsed", elapsed),
	)
	return t, nil
}

func (c *Cache) read(maxRows int) (*Table, error) {
	raw, err := c.source.Read(maxRows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	return Build(raw, c.columns)
}

// Invalidate starts a new generation; the next Load re-reads the source.
// Tables already handed out stay valid.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.tables = make(map[cacheKey]*Table)
	c.logger.Info("dataset cache invalidated", zap.Uint64("generation", c.generation))
}

func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}
