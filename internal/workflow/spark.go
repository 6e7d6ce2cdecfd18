package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// sparkStatementKeywords are the words a Spark SQL statement may start
// with. Anything else fails the gate before a single model call is spent.
var sparkStatementKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "CREATE": true,
	"ALTER": true, "DROP": true, "USE": true, "SET": true,
	"MERGE": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true,
	"SHOW": true, "DESCRIBE": true, "DESC": true, "EXPLAIN": true,
	"ANALYZE": true, "REFRESH": true, "MSCK": true, "CACHE": true,
	"UNCACHE": true, "LOAD": true, "VALUES": true,
}

// stripFences removes a surrounding markdown code fence from pasted input.
// The opening line goes unconditionally; the closing line only when it is
// a bare fence.
func stripFences(sql string) string {
	sql = strings.TrimSpace(sql)
	if !strings.HasPrefix(sql, "```") {
		return sql
	}
	lines := strings.Split(sql, "\n")
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// validateSpark is the lexical syntax gate. It rejects input that is
// empty, starts a statement with a non-SQL word, or has unbalanced
// parentheses or unterminated literals, and returns the source tables the
// statements read or write, sorted and deduplicated.
func validateSpark(sql string) ([]string, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New("empty SQL")
	}

	toks, err := lexSQL(sql)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, errors.New("empty SQL")
	}
	if err := checkStatementStarts(toks); err != nil {
		return nil, err
	}
	if err := checkParenBalance(toks); err != nil {
		return nil, err
	}
	return sourceTables(toks), nil
}

// sqlToken is one lexical unit of a SQL script. Backtick-quoted
// identifiers carry their content without the quotes; string literals are
// kept as tokens so positional rules still see them.
type sqlToken struct {
	text   string
	quoted bool
	str    bool
}

func (t sqlToken) punct(s string) bool {
	return !t.quoted && !t.str && t.text == s
}

func (t sqlToken) keyword() string {
	if t.quoted || t.str {
		return ""
	}
	return strings.ToUpper(t.text)
}

func lexSQL(sql string) ([]sqlToken, error) {
	var toks []sqlToken
	i, n := 0, len(sql)

	for i < n {
		c := sql[i]
		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && sql[i+1] == '*':
			i += 2
			for {
				if i+1 >= n {
					return nil, errors.New("unterminated block comment")
				}
				if sql[i] == '*' && sql[i+1] == '/' {
					i += 2
					break
				}
				i++
			}

		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			closed := false
			for i < n {
				if sql[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				if sql[i] == quote {
					// Doubled quotes escape themselves.
					if i+1 < n && sql[i+1] == quote {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, errors.New("unterminated string literal")
			}
			toks = append(toks, sqlToken{text: sql[start:i], str: true})

		case c == '`':
			start := i + 1
			i++
			for i < n && sql[i] != '`' {
				i++
			}
			if i >= n {
				return nil, errors.New("unterminated quoted identifier")
			}
			toks = append(toks, sqlToken{text: sql[start:i], quoted: true})
			i++

		case isSQLWordChar(c):
			start := i
			for i < n && isSQLWordChar(sql[i]) {
				i++
			}
			toks = append(toks, sqlToken{text: sql[start:i]})

		default:
			if !isSQLSpace(c) {
				toks = append(toks, sqlToken{text: string(c)})
			}
			i++
		}
	}
	return toks, nil
}

func isSQLWordChar(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func isSQLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// checkStatementStarts verifies every statement opens with a known SQL
// keyword. A leading parenthesis is allowed for parenthesized set queries.
func checkStatementStarts(toks []sqlToken) error {
	stmtStart := true
	for _, t := range toks {
		if t.punct(";") {
			stmtStart = true
			continue
		}
		if !stmtStart {
			continue
		}
		if t.punct("(") {
			continue
		}
		stmtStart = false
		kw := t.keyword()
		if !sparkStatementKeywords[kw] {
			return fmt.Errorf("statement must start with a SQL keyword, got %q", t.text)
		}
	}
	return nil
}

func checkParenBalance(toks []sqlToken) error {
	depth := 0
	for _, t := range toks {
		switch {
		case t.punct("("):
			depth++
		case t.punct(")"):
			depth--
			if depth < 0 {
				return errors.New("unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return errors.New("unbalanced parentheses")
	}
	return nil
}

// sourceTables extracts the table names the script references after
// FROM, JOIN, INTO, UPDATE, and TABLE. Unqualified names shadowed by a
// CTE alias are skipped; qualified db.table names always count.
func sourceTables(toks []sqlToken) []string {
	ctes := cteAliases(toks)
	seen := make(map[string]bool)
	var tables []string

	for i, t := range toks {
		switch t.keyword() {
		case "FROM":
			// A FROM two tokens after an opening parenthesis belongs to a
			// function form such as EXTRACT(DAY FROM x) or TRIM(' ' FROM x).
			if i >= 2 && toks[i-2].punct("(") {
				continue
			}
		case "JOIN", "INTO", "UPDATE", "TABLE":
		default:
			continue
		}

		name, ok := tableNameAt(toks, i+1)
		if !ok {
			continue
		}
		key := strings.ToLower(name)
		if !strings.Contains(name, ".") && ctes[key] {
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		tables = append(tables, name)
	}

	sort.Strings(tables)
	return tables
}

// tableNameAt reads the table reference starting at index i, if one is
// there. Subqueries and keywords yield no name.
func tableNameAt(toks []sqlToken, i int) (string, bool) {
	if i >= len(toks) {
		return "", false
	}
	t := toks[i]
	if t.str || t.punct("(") {
		return "", false
	}
	if t.quoted {
		return t.text, t.text != ""
	}
	if sparkStatementKeywords[strings.ToUpper(t.text)] {
		return "", false
	}
	if !isTableIdentifier(t.text) {
		return "", false
	}
	return t.text, true
}

func isTableIdentifier(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// cteAliases collects WITH-clause names so unqualified references to them
// are not mistaken for source tables. A CTE is an identifier followed by
// AS and an opening parenthesis, optionally with a column list between.
func cteAliases(toks []sqlToken) map[string]bool {
	aliases := make(map[string]bool)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.str || t.quoted || !isTableIdentifier(t.text) {
			continue
		}
		if sparkStatementKeywords[strings.ToUpper(t.text)] {
			continue
		}

		j := i + 1
		if j < len(toks) && toks[j].punct("(") {
			j = matchParen(toks, j)
			if j < 0 {
				continue
			}
			j++
		}
		if j+1 < len(toks) && toks[j].keyword() == "AS" && toks[j+1].punct("(") {
			aliases[strings.ToLower(t.text)] = true
		}
	}
	return aliases
}

// matchParen returns the index of the parenthesis closing the one at
// open, or -1.
func matchParen(toks []sqlToken, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].punct("("):
			depth++
		case toks[i].punct(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
