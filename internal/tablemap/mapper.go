// Package tablemap maintains the Hive to BigQuery table name mapping.
// The mapping comes from a two-column CSV maintained by the data team and
// is applied both inside translation prompts and as a post-processing
// pass over converted SQL.
package tablemap

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"sqlbridge/internal/logging"
)

// noMapping marks rows whose BigQuery side does not exist yet. The data
// team fills the column with this placeholder instead of leaving it blank.
const noMapping = "无"

// Mapper holds the table name mapping and rewrites table references.
type Mapper struct {
	mu       sync.RWMutex
	path     string
	mappings map[string]string // lowercased hive name -> BigQuery name
	patterns []pattern         // longest hive name first
}

type pattern struct {
	re *regexp.Regexp
	bq string
}

// New creates an empty mapper. Load or Reload fills it.
func New() *Mapper {
	return &Mapper{mappings: make(map[string]string)}
}

// Load reads the mapping CSV at path and replaces the current mapping.
// The file must have a hive_table,bigquery_table header row.
func (m *Mapper) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open mapping csv: %w", err)
	}
	defer f.Close()

	mappings, err := parseCSV(f)
	if err != nil {
		return fmt.Errorf("failed to parse mapping csv %s: %w", path, err)
	}

	m.mu.Lock()
	m.path = path
	m.mappings = mappings
	m.patterns = buildPatterns(mappings)
	m.mu.Unlock()

	logging.TableMap("loaded %d table mappings from %s", len(mappings), path)
	return nil
}

// Reload re-reads the CSV the mapper was loaded from. A parse failure
// keeps the previous mapping.
func (m *Mapper) Reload() error {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no mapping csv loaded")
	}
	return m.Load(path)
}

func parseCSV(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	mappings := make(map[string]string)
	for i, rec := range records {
		if len(rec) < 2 {
			continue
		}
		hive := strings.ToLower(strings.TrimSpace(rec[0]))
		bq := strings.TrimSpace(rec[1])
		if hive == "" || bq == "" || bq == noMapping {
			continue
		}
		// Skip the header row.
		if i == 0 && strings.EqualFold(hive, "hive_table") {
			continue
		}
		mappings[hive] = bq
	}
	return mappings, nil
}

// buildPatterns compiles one replacement pattern per mapping, longest
// hive name first so prefixes never shadow full names.
func buildPatterns(mappings map[string]string) []pattern {
	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	patterns := make([]pattern, 0, len(names))
	for _, name := range names {
		re := regexp.MustCompile(
			`(?i)(\b(?:FROM|JOIN|INTO|UPDATE|TABLE)\s+)` + "`?" + regexp.QuoteMeta(name) + `\b` + "`?",
		)
		patterns = append(patterns, pattern{re: re, bq: mappings[name]})
	}
	return patterns
}

// Apply rewrites every mapped table reference in sql to its backticked
// BigQuery name. Only references after FROM/JOIN/INTO/UPDATE/TABLE are
// touched, so column values and aliases stay intact.
func (m *Mapper) Apply(sql string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patterns {
		sql = p.re.ReplaceAllString(sql, "${1}`"+p.bq+"`")
	}
	return sql
}

// Lookup returns the BigQuery name for a Hive table.
func (m *Mapper) Lookup(hive string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bq, ok := m.mappings[strings.ToLower(strings.TrimSpace(hive))]
	return bq, ok
}

// Size returns the number of loaded mappings.
func (m *Mapper) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mappings)
}

// PromptInfo renders the full mapping as a block for translation prompts.
func (m *Mapper) PromptInfo() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return FormatPromptInfo(m.mappings)
}

// FormatPromptInfo renders a mapping subset for translation prompts, one
// line per table in name order. Runs pass only the tables their query
// references so prompts stay small.
func FormatPromptInfo(mappings map[string]string) string {
	if len(mappings) == 0 {
		return "No table mappings available."
	}

	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names)+1)
	lines = append(lines, "## Table Name Mappings (Spark → BigQuery):")
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("- %s → `%s`", name, mappings[name]))
	}
	return strings.Join(lines, "\n")
}

// LoadVerifyPairs reads the ground truth CSV used by data verification.
// The file maps each converted BigQuery table to the table holding the
// expected result (new_table,ground_truth_table header).
func LoadVerifyPairs(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open verify csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse verify csv %s: %w", path, err)
	}

	pairs := make(map[string]string)
	for i, rec := range records {
		if len(rec) < 2 {
			continue
		}
		target := strings.ToLower(strings.TrimSpace(rec[0]))
		truth := strings.TrimSpace(rec[1])
		if target == "" || truth == "" || truth == noMapping {
			continue
		}
		if i == 0 && (strings.EqualFold(target, "new_table") || strings.EqualFold(target, "bigquery_table")) {
			continue
		}
		pairs[target] = truth
	}
	return pairs, nil
}
