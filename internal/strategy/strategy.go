// Package strategy defines moving-average trading strategies as ordered rule
// lists, replays them over daily price history, and provides a Registry for
// looking strategies up by name.
package strategy

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrConfiguration reports input data that cannot support the requested
	// strategy: too few bars, or moving averages missing on simulated days.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput reports a caller-supplied parameter outside its
	// domain: non-positive capital or lot size, malformed rules, zero prices.
	ErrInvalidInput = errors.New("invalid input")
)

// Config is a complete strategy: rules are evaluated in order each day and
// the first whose guard and trigger hold is the only one considered.
type Config struct {
	Name    string `json:"name" yaml:"name"`
	LotSize int64  `json:"lot_size" yaml:"lot_size"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// Validate checks the lot size and every rule.
func (c Config) Validate() error {
	if c.LotSize <= 0 {
		return fmt.Errorf("%w: lot size must be positive, got %d", ErrInvalidInput, c.LotSize)
	}
	for _, r := range c.Rules {
		if err := r.validate(); err != nil {
			return err
		}
	}
	return nil
}

// RequiredWindows returns the sorted, de-duplicated moving average windows
// referenced by the rules.
func (c Config) RequiredWindows() []int {
	seen := make(map[int]struct{})
	for _, r := range c.Rules {
		for _, ref := range []Ref{r.Trigger.Fast, r.Trigger.Slow} {
			if ref != CloseRef {
				seen[ref.Window()] = struct{}{}
			}
		}
	}
	ws := make([]int, 0, len(seen))
	for w := range seen {
		ws = append(ws, w)
	}
	sort.Ints(ws)
	return ws
}

// WithLotSize returns a copy of c trading in lots of n shares.
func (c Config) WithLotSize(n int64) Config {
	c.Rules = append([]Rule(nil), c.Rules...)
	c.LotSize = n
	return c
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Config
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Config),
	}
}

// Register adds a strategy to the registry, keyed by its Name.
func (r *Registry) Register(c Config) {
	r.strategies[c.Name] = c
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Config, bool) {
	c, ok := r.strategies[name]
	return c, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
