package sqlchunk

import (
	"regexp"
	"strings"
)

var (
	insertSelectRe = regexp.MustCompile(`(?is)^(INSERT\s+(?:OVERWRITE\s+)?(?:INTO\s+)?TABLE\s+\S+)\s+((?:WITH|SELECT).*)$`)
	alterViewRe    = regexp.MustCompile(`(?is)^(ALTER\s+VIEW\s+\S+\s+AS)\s+(SELECT.*)$`)
	withRe         = regexp.MustCompile(`(?is)^\s*WITH\s+(.*)$`)
	cteHeadRe      = regexp.MustCompile(`(?i)^\s*(\w+)\s+AS\s*\(`)
	singleQuoteRe  = regexp.MustCompile(`'[^']*'`)
	doubleQuoteRe  = regexp.MustCompile(`"[^"]*"`)
	wordRe         = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// Analyze inspects the statement structure and splits it into chunks.
// The strategies are tried in order: multiple statements, INSERT...SELECT,
// ALTER VIEW, CTE list, top-level UNION. When nothing matches the whole
// input is returned as a single main chunk. Every returned chunk carries
// its CTE dependency set.
func Analyze(sql string) []Chunk {
	sql = strings.TrimSpace(sql)

	var chunks []Chunk
	switch {
	case hasMultipleStatements(sql):
		chunks = chunkByStatements(sql)
	case isInsertSelect(sql):
		chunks = chunkInsertSelect(sql)
	case isAlterView(sql):
		chunks = chunkAlterView(sql)
	case hasCTE(sql):
		chunks = chunkByCTE(sql)
	case hasTopLevelUnion(sql):
		chunks = chunkByUnion(sql)
	default:
		chunks = []Chunk{{Kind: KindMain, Content: sql}}
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Status = StatusPending
	}
	annotateDependencies(chunks)
	return chunks
}

// annotateDependencies fills DependsOn for every chunk with the names of
// the CTE chunks it references, in CTE definition order. Self references
// are excluded.
func annotateDependencies(chunks []Chunk) {
	var names []string
	for _, c := range chunks {
		if c.Kind == KindCTE && c.Name != "" {
			names = append(names, c.Name)
		}
	}
	if len(names) == 0 {
		return
	}
	for i := range chunks {
		clean := stripStringLiterals(chunks[i].Content)
		seen := make(map[string]bool)
		for _, w := range wordRe.FindAllString(clean, -1) {
			seen[strings.ToLower(w)] = true
		}
		var deps []string
		for _, n := range names {
			if strings.EqualFold(n, chunks[i].Name) {
				continue
			}
			if seen[strings.ToLower(n)] {
				deps = append(deps, n)
			}
		}
		chunks[i].DependsOn = deps
	}
}

// stripStringLiterals blanks out quoted literals so keyword and identifier
// scans cannot match inside strings.
func stripStringLiterals(sql string) string {
	s := singleQuoteRe.ReplaceAllString(sql, "''")
	return doubleQuoteRe.ReplaceAllString(s, `""`)
}

func hasMultipleStatements(sql string) bool {
	clean := stripStringLiterals(sql)
	n := 0
	for _, part := range strings.Split(clean, ";") {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n > 1
}

// splitStatements splits on semicolons outside string literals.
func splitStatements(sql string) []string {
	var (
		stmts      []string
		current    strings.Builder
		inString   bool
		stringChar byte
	)
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if (ch == '\'' || ch == '"') && !inString {
			inString = true
			stringChar = ch
		} else if inString && ch == stringChar {
			inString = false
		}
		if ch == ';' && !inString {
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
			continue
		}
		current.WriteByte(ch)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

func chunkByStatements(sql string) []Chunk {
	var chunks []Chunk
	for _, stmt := range splitStatements(sql) {
		kind := KindStatement
		if strings.HasPrefix(strings.ToUpper(stmt), "USE") {
			kind = KindUse
		}
		chunks = append(chunks, Chunk{Kind: kind, Content: stmt})
	}
	return chunks
}

func isInsertSelect(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(upper, "INSERT") && strings.Contains(upper, "SELECT")
}

func isAlterView(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(upper, "ALTER VIEW") || strings.HasPrefix(upper, "ALTER\nVIEW")
}

func chunkInsertSelect(sql string) []Chunk {
	m := insertSelectRe.FindStringSubmatch(sql)
	if m == nil {
		return []Chunk{{Kind: KindStatement, Content: sql}}
	}
	header, body := m[1], strings.TrimSpace(m[2])

	chunks := []Chunk{{Kind: KindInsertHeader, Name: insertTargetTable(header), Content: header}}
	switch {
	case hasCTE(body):
		chunks = append(chunks, chunkByCTE(body)...)
	case hasTopLevelUnion(body):
		chunks = append(chunks, chunkByUnion(body)...)
	default:
		chunks = append(chunks, Chunk{Kind: KindSelect, Content: body})
	}
	return chunks
}

func chunkAlterView(sql string) []Chunk {
	m := alterViewRe.FindStringSubmatch(sql)
	if m == nil {
		return []Chunk{{Kind: KindStatement, Content: sql}}
	}
	header, body := m[1], strings.TrimSpace(m[2])
	return []Chunk{
		{Kind: KindAlterViewHeader, Name: alterViewTarget(header), Content: header},
		{Kind: KindSelect, Content: body},
	}
}

func hasCTE(sql string) bool {
	return withRe.MatchString(sql)
}

func chunkByCTE(sql string) []Chunk {
	m := withRe.FindStringSubmatch(sql)
	if m == nil {
		return []Chunk{{Kind: KindMain, Content: sql}}
	}
	defs, main := parseCTEs(m[1])
	if len(defs) == 0 {
		return []Chunk{{Kind: KindMain, Content: sql}}
	}
	var chunks []Chunk
	for _, d := range defs {
		chunks = append(chunks, Chunk{Kind: KindCTE, Name: d.name, Content: d.body})
	}
	if main != "" {
		chunks = append(chunks, Chunk{Kind: KindMain, Content: main})
	}
	return chunks
}

type cteDef struct {
	name string
	body string // parenthesized definition, parens included
}

// parseCTEs walks "name AS (...)" blocks separated by commas and returns
// them together with the trailing main query.
func parseCTEs(afterWith string) ([]cteDef, string) {
	var defs []cteDef
	remaining := afterWith
	for {
		m := cteHeadRe.FindStringSubmatch(remaining)
		if m == nil {
			break
		}
		loc := cteHeadRe.FindStringIndex(remaining)
		openParen := loc[1] - 1
		closeParen := findMatchingParen(remaining, openParen)
		if closeParen < 0 {
			break
		}
		defs = append(defs, cteDef{name: m[1], body: remaining[openParen : closeParen+1]})
		remaining = strings.TrimSpace(remaining[closeParen+1:])
		if strings.HasPrefix(remaining, ",") {
			remaining = strings.TrimSpace(remaining[1:])
			continue
		}
		break
	}
	return defs, strings.TrimSpace(remaining)
}

// findMatchingParen returns the index of the parenthesis closing the one at
// start, skipping string literals. Returns -1 when unbalanced.
func findMatchingParen(s string, start int) int {
	depth := 0
	inString := false
	var stringChar byte
	for i := start; i < len(s); i++ {
		ch := s[i]
		if (ch == '\'' || ch == '"') && (i == 0 || s[i-1] != '\\') {
			if !inString {
				inString = true
				stringChar = ch
			} else if ch == stringChar {
				inString = false
			}
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// removeParenContent collapses every top-level parenthesized group to "()"
// so that keyword scans only see top-level text.
func removeParenContent(sql string) string {
	var (
		out        strings.Builder
		depth      int
		inString   bool
		stringChar byte
	)
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if (ch == '\'' || ch == '"') && !inString {
			inString = true
			stringChar = ch
			if depth == 0 {
				out.WriteByte(ch)
			}
			continue
		}
		if inString && ch == stringChar {
			inString = false
			if depth == 0 {
				out.WriteByte(ch)
			}
			continue
		}
		if inString {
			continue
		}
		switch {
		case ch == '(':
			depth++
			if depth == 1 {
				out.WriteString("()")
			}
		case ch == ')':
			depth--
		case depth == 0:
			out.WriteByte(ch)
		}
	}
	return out.String()
}

var unionRe = regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?`)

func hasTopLevelUnion(sql string) bool {
	return unionRe.MatchString(removeParenContent(sql))
}

type unionPos struct {
	start, end int
	keyword    string // "UNION" or "UNION ALL"
}

// findTopLevelUnions locates UNION keywords at parenthesis depth zero.
func findTopLevelUnions(sql string) []unionPos {
	var (
		positions  []unionPos
		depth      int
		inString   bool
		stringChar byte
	)
	upper := strings.ToUpper(sql)
	i := 0
	for i < len(sql) {
		ch := sql[i]
		if (ch == '\'' || ch == '"') && (i == 0 || sql[i-1] != '\\') {
			if !inString {
				inString = true
				stringChar = ch
			} else if ch == stringChar {
				inString = false
			}
			i++
			continue
		}
		if inString {
			i++
			continue
		}
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(upper[i:], "UNION") && isWordBoundary(upper, i, i+5) {
			end := i + 5
			rest := upper[end:]
			trimmed := strings.TrimLeft(rest, " \t\n\r")
			if strings.HasPrefix(trimmed, "ALL") && isWordBoundary(trimmed, 0, 3) {
				skip := len(rest) - len(trimmed)
				end += skip + 3
				positions = append(positions, unionPos{start: i, end: end, keyword: "UNION ALL"})
			} else {
				positions = append(positions, unionPos{start: i, end: end, keyword: "UNION"})
			}
			i = end
			continue
		}
		i++
	}
	return positions
}

// isWordBoundary reports whether s[start:end] is delimited by non-word
// characters (or the string edges) on both sides.
func isWordBoundary(s string, start, end int) bool {
	isWord := func(b byte) bool {
		return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
	}
	if start > 0 && isWord(s[start-1]) {
		return false
	}
	if end < len(s) && isWord(s[end]) {
		return false
	}
	return true
}

func chunkByUnion(sql string) []Chunk {
	positions := findTopLevelUnions(sql)
	if len(positions) == 0 {
		return []Chunk{{Kind: KindMain, Content: sql}}
	}
	var chunks []Chunk
	prevEnd := 0
	prevKeyword := ""
	for _, p := range positions {
		part := strings.TrimSpace(sql[prevEnd:p.start])
		if part != "" {
			kind := KindUnionPart
			if len(chunks) == 0 {
				kind = KindUnionFirst
			}
			chunks = append(chunks, Chunk{Kind: kind, Content: part, connector: prevKeyword})
		}
		prevEnd = p.end
		prevKeyword = p.keyword
	}
	if part := strings.TrimSpace(sql[prevEnd:]); part != "" {
		chunks = append(chunks, Chunk{Kind: KindUnionPart, Content: part, connector: prevKeyword})
	}
	return chunks
}

var (
	insertTargetRe = regexp.MustCompile(`(?i)INSERT\s+(?:OVERWRITE\s+)?(?:INTO\s+)?TABLE\s+(\S+)`)
	alterTargetRe  = regexp.MustCompile(`(?i)ALTER\s+VIEW\s+(\S+)\s+AS`)
)

func insertTargetTable(header string) string {
	if m := insertTargetRe.FindStringSubmatch(header); m != nil {
		return strings.Trim(m[1], "`")
	}
	return ""
}

func alterViewTarget(header string) string {
	if m := alterTargetRe.FindStringSubmatch(header); m != nil {
		return strings.Trim(m[1], "`")
	}
	return ""
}
