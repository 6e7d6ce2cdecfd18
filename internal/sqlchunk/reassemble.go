package sqlchunk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrReassembly marks structural reassembly failures: a cyclic or
// unresolved CTE dependency, or a fragment that was never translated.
// These are decomposition bugs, not translator mistakes, so the caller
// must not feed them to the fix loop.
var ErrReassembly = errors.New("chunk reassembly failed")

// Reassemble merges translated fragments back into one statement.
// Header chunks are rewritten locally, USE statements are dropped, CTE
// definitions are emitted in dependency order (ties broken by original
// position) and every other fragment keeps its original slot.
func Reassemble(chunks []Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: no chunks", ErrReassembly)
	}

	for _, c := range chunks {
		if !c.NeedsTranslation() {
			continue
		}
		if c.Status != StatusTranslated || strings.TrimSpace(c.Translated) == "" {
			return "", fmt.Errorf("%w: chunk %d (%s) has no translation", ErrReassembly, c.Index, c.Kind)
		}
	}

	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var (
		headers    []string
		ctes       []Chunk
		mains      []string
		unions     []string
		connectors []string
		statements []string
	)
	for _, c := range ordered {
		switch c.Kind {
		case KindInsertHeader:
			headers = append(headers, rewriteInsertHeader(c.Content))
		case KindAlterViewHeader:
			headers = append(headers, rewriteAlterViewHeader(c.Content))
		case KindUse:
			// dropped: no USE in BigQuery
		case KindCTE:
			ctes = append(ctes, c)
		case KindUnionFirst, KindUnionPart:
			unions = append(unions, strings.TrimSpace(c.Translated))
			connectors = append(connectors, c.connector)
		case KindStatement:
			statements = append(statements, strings.TrimSpace(c.Translated))
		default:
			mains = append(mains, strings.TrimSpace(c.Translated))
		}
	}

	sortedCTEs, err := sortCTEs(ctes)
	if err != nil {
		return "", err
	}

	var parts []string
	parts = append(parts, headers...)

	if len(sortedCTEs) > 0 {
		var b strings.Builder
		for i, c := range sortedCTEs {
			body := ensureParens(strings.TrimSpace(c.Translated))
			if i == 0 {
				b.WriteString(fmt.Sprintf("WITH %s AS %s", c.Name, body))
			} else {
				b.WriteString(fmt.Sprintf("\n, %s AS %s", c.Name, body))
			}
		}
		parts = append(parts, b.String())
	}

	if len(unions) > 0 {
		var b strings.Builder
		for i, u := range unions {
			if i > 0 {
				kw := connectors[i]
				if kw == "" {
					kw = "UNION ALL"
				}
				b.WriteString("\n" + kw + "\n")
			}
			b.WriteString(u)
		}
		parts = append(parts, b.String())
	}

	parts = append(parts, mains...)

	if len(statements) > 0 {
		parts = append(parts, strings.Join(statements, ";\n")+";")
	}

	result := strings.TrimSpace(strings.Join(parts, "\n"))
	if result == "" {
		return "", fmt.Errorf("%w: empty result", ErrReassembly)
	}
	return result, nil
}

// sortCTEs returns the definitions in topological order, original position
// breaking ties. Unknown or cyclic dependencies are reassembly errors.
func sortCTEs(ctes []Chunk) ([]Chunk, error) {
	if len(ctes) <= 1 {
		return ctes, nil
	}

	byName := make(map[string]int, len(ctes)) // lower-cased name -> slice index
	for i, c := range ctes {
		byName[strings.ToLower(c.Name)] = i
	}

	indegree := make([]int, len(ctes))
	dependents := make([][]int, len(ctes))
	for i, c := range ctes {
		for _, dep := range c.DependsOn {
			j, ok := byName[strings.ToLower(dep)]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on unknown CTE %s", ErrReassembly, c.Name, dep)
			}
			dependents[j] = append(dependents[j], i)
			indegree[i]++
		}
	}

	// Kahn's algorithm with a position-ordered frontier for determinism.
	var frontier []int
	for i := range ctes {
		if indegree[i] == 0 {
			frontier = append(frontier, i)
		}
	}
	sort.Ints(frontier)

	ordered := make([]Chunk, 0, len(ctes))
	for len(frontier) > 0 {
		i := frontier[0]
		frontier = frontier[1:]
		ordered = append(ordered, ctes[i])
		for _, dep := range dependents[i] {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
		sort.Ints(frontier)
	}

	if len(ordered) != len(ctes) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, ctes[i].Name)
			}
		}
		return nil, fmt.Errorf("%w: cyclic CTE dependency involving %s", ErrReassembly, strings.Join(stuck, ", "))
	}
	return ordered, nil
}

func ensureParens(body string) string {
	if strings.HasPrefix(body, "(") {
		return body
	}
	return "(" + body + ")"
}

// rewriteInsertHeader converts an INSERT [OVERWRITE] [INTO] TABLE header
// into BigQuery's CREATE OR REPLACE TABLE form.
func rewriteInsertHeader(header string) string {
	if t := insertTargetTable(header); t != "" {
		return fmt.Sprintf("CREATE OR REPLACE TABLE `%s` AS", t)
	}
	return header
}

// rewriteAlterViewHeader converts an ALTER VIEW header into BigQuery's
// CREATE OR REPLACE VIEW form.
func rewriteAlterViewHeader(header string) string {
	if t := alterViewTarget(header); t != "" {
		return fmt.Sprintf("CREATE OR REPLACE VIEW `%s` AS", t)
	}
	return header
}
