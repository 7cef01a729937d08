// Package matcher ranks historical reference cases against a scenario draft.
//
// The corpus is held as an immutable Snapshot behind an atomic pointer; a
// reload builds a complete new snapshot and swaps it in, so readers always see
// one consistent case list and index.
package matcher

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finscenario/scenariomap/internal/scenario"
)

//go:embed reference_cases.yaml
var referenceCasesYAML []byte

// EmbeddedSource names the built-in corpus in snapshots and logs.
const EmbeddedSource = "embedded"

// Snapshot is one immutable view of the corpus.
type Snapshot struct {
	cases    []scenario.HistoricalCase
	index    *index
	source   string
	loadedAt time.Time
}

// Len returns the number of cases.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.cases)
}

// Cases returns a copy of the cases in id order.
func (s *Snapshot) Cases() []scenario.HistoricalCase {
	if s == nil {
		return []scenario.HistoricalCase{}
	}
	out := make([]scenario.HistoricalCase, len(s.cases))
	for i, c := range s.cases {
		c.Recommendations = append([]string(nil), c.Recommendations...)
		out[i] = c
	}
	return out
}

// Case looks up a case by id.
func (s *Snapshot) Case(id string) (scenario.HistoricalCase, bool) {
	if s == nil {
		return scenario.HistoricalCase{}, false
	}
	i := sort.Search(len(s.cases), func(i int) bool { return s.cases[i].ID >= id })
	if i < len(s.cases) && s.cases[i].ID == id {
		return s.cases[i], true
	}
	return scenario.HistoricalCase{}, false
}

// Source reports where the snapshot was loaded from.
func (s *Snapshot) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}

// LoadedAt reports when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// NewSnapshot sorts a copy of cases by id and builds the scoring index.
func NewSnapshot(cases []scenario.HistoricalCase, source string) *Snapshot {
	sorted := make([]scenario.HistoricalCase, len(cases))
	copy(sorted, cases)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	docs := make([]string, len(sorted))
	for i, c := range sorted {
		docs[i] = caseText(c)
	}
	return &Snapshot{
		cases:    sorted,
		index:    buildIndex(docs),
		source:   source,
		loadedAt: time.Now().UTC(),
	}
}

// Corpus is the swappable holder of the current snapshot. The zero value has
// an empty corpus.
type Corpus struct {
	current atomic.Pointer[Snapshot]
}

// NewCorpus returns a corpus initialised with cases.
func NewCorpus(cases []scenario.HistoricalCase, source string) *Corpus {
	c := &Corpus{}
	c.Swap(cases, source)
	return c
}

// Snapshot returns the current snapshot, never nil.
func (c *Corpus) Snapshot() *Snapshot {
	if s := c.current.Load(); s != nil {
		return s
	}
	return NewSnapshot(nil, "")
}

// Swap replaces the corpus atomically and returns the new snapshot.
func (c *Corpus) Swap(cases []scenario.HistoricalCase, source string) *Snapshot {
	s := NewSnapshot(cases, source)
	c.current.Store(s)
	return s
}

// Reload loads path (or the embedded corpus when empty) and swaps it in. On
// error the current snapshot is kept.
func (c *Corpus) Reload(path string) (*Snapshot, error) {
	cases, err := LoadCases(path)
	if err != nil {
		return nil, err
	}
	source := path
	if source == "" {
		source = EmbeddedSource
	}
	return c.Swap(cases, source), nil
}

// ReferenceCases returns the built-in 50-case corpus.
func ReferenceCases() []scenario.HistoricalCase {
	cases, err := parseCases(referenceCasesYAML, false)
	if err != nil {
		panic(fmt.Sprintf("embedded reference corpus: %v", err))
	}
	return cases
}

// LoadCases reads a YAML or JSON case file. An empty path selects the
// embedded reference corpus.
func LoadCases(path string) ([]scenario.HistoricalCase, error) {
	if path == "" {
		return ReferenceCases(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")
	cases, err := parseCases(data, isJSON)
	if err != nil {
		return nil, fmt.Errorf("parsing corpus file %s: %w", path, err)
	}
	return cases, nil
}

func parseCases(data []byte, isJSON bool) ([]scenario.HistoricalCase, error) {
	var cases []scenario.HistoricalCase
	var err error
	if isJSON {
		err = json.Unmarshal(data, &cases)
	} else {
		err = yaml.Unmarshal(data, &cases)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cases))
	for i := range cases {
		c := &cases[i]
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			c.ID = fmt.Sprintf("HC-%03d", i+1)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
		if strings.TrimSpace(c.Name) == "" {
			c.Name = fmt.Sprintf("Case %d", i+1)
		}
	}
	return cases, nil
}
