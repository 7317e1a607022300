// Package observation holds the raw surveillance records consumed by the series builder
package observation

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

var (
	ErrEmptyDisease  = errors.New("observation has no disease")
	ErrEmptyRegion   = errors.New("observation has no region")
	ErrNegativeCases = errors.New("observation has a negative case count")
	ErrUnknownSource = errors.New("unknown observation source")
)

// Sources of an observation. An empty source is treated as real.
const (
	SourceReal      = "real"
	SourceSynthetic = "synthetic"
)

// Observation is a single reported case count for a disease in a region during a year.
// Several observations may exist for the same year, e.g. partial-year reports.
type Observation struct {
	Disease   string `json:"disease"`
	Region    string `json:"region"`
	Year      int    `json:"year"`
	CaseCount int64  `json:"case_count"`
	Source    string `json:"source,omitempty"`
}

// Synthetic reports whether the observation was generated rather than reported
func (o Observation) Synthetic() bool {
	return o.Source == SourceSynthetic
}

// Key returns the (disease, region) pair the observation belongs to
func (o Observation) Key() Key {
	return Key{Disease: o.Disease, Region: o.Region}
}

// Validate checks that the observation can be aggregated
func (o Observation) Validate() error {
	if o.Disease == "" {
		return ErrEmptyDisease
	}
	if o.Region == "" {
		return ErrEmptyRegion
	}
	if o.CaseCount < 0 {
		return fmt.Errorf("%s/%s in %d has %d cases, %w", o.Disease, o.Region, o.Year, o.CaseCount, ErrNegativeCases)
	}
	switch o.Source {
	case "", SourceReal, SourceSynthetic:
	default:
		return fmt.Errorf("%q, %w", o.Source, ErrUnknownSource)
	}
	return nil
}

// Key identifies an independent unit of work for the forecaster
type Key struct {
	Disease string `json:"disease"`
	Region  string `json:"region"`
}

func (k Key) String() string {
	return k.Disease + "/" + k.Region
}

// Less orders keys by disease and then region
func (k Key) Less(o Key) bool {
	if k.Disease != o.Disease {
		return k.Disease < o.Disease
	}
	return k.Region < o.Region
}

// Keys returns the distinct (disease, region) pairs found in obs in sorted order
func Keys(obs []Observation) []Key {
	seen := make(map[Key]struct{})
	keys := make([]Key, 0)
	for _, o := range obs {
		k := o.Key()
		if _, exists := seen[k]; exists {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// GroupByKey partitions observations by (disease, region) preserving input order within a group
func GroupByKey(obs []Observation) map[Key][]Observation {
	groups := make(map[Key][]Observation)
	for _, o := range obs {
		k := o.Key()
		groups[k] = append(groups[k], o)
	}
	return groups
}

// ReadJSON decodes a JSON array of observations
func ReadJSON(r io.Reader) ([]Observation, error) {
	var obs []Observation
	if err := json.NewDecoder(r).Decode(&obs); err != nil {
		return nil, fmt.Errorf("unable to decode observations, %w", err)
	}
	return obs, nil
}

// ReadJSONFile reads a JSON array of observations from path
func ReadJSONFile(path string) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}
