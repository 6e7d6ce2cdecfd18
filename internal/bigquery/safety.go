package bigquery

import (
	"fmt"
	"strings"
)

// token is one lexical unit of a SQL script. Backtick-quoted identifiers
// carry their content without the quotes.
type token struct {
	text   string
	quoted bool
}

// ModificationTarget scans a script for the first statement that writes
// data (INSERT, UPDATE, DELETE, MERGE, CREATE, DROP) and returns its
// target table. String literals and comments never trip the scan, so
// EXECUTE IMMEDIATE bodies pass through unexamined.
func ModificationTarget(sql string) (table string, isModification bool) {
	toks := tokenize(sql)

	stmtStart := true
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.text == ";" {
			stmtStart = true
			continue
		}
		if !stmtStart {
			continue
		}
		stmtStart = false
		if t.quoted {
			continue
		}

		switch strings.ToUpper(t.text) {
		case "INSERT":
			return targetAfter(toks, i+1, "OVERWRITE", "INTO", "TABLE"), true
		case "UPDATE":
			return targetAfter(toks, i+1), true
		case "DELETE":
			return targetAfter(toks, i+1, "FROM"), true
		case "MERGE":
			return targetAfter(toks, i+1, "INTO"), true
		case "CREATE":
			return targetAfter(toks, i+1, "OR", "REPLACE", "TEMP", "TEMPORARY",
				"MATERIALIZED", "EXTERNAL", "SNAPSHOT", "TABLE", "VIEW",
				"SCHEMA", "IF", "NOT", "EXISTS"), true
		case "DROP":
			return targetAfter(toks, i+1, "TABLE", "VIEW", "SCHEMA",
				"MATERIALIZED", "EXTERNAL", "SNAPSHOT", "IF", "EXISTS"), true
		}
	}
	return "", false
}

// CheckAllowedTarget enforces the dataset allow list on a modification
// target. An empty list allows everything.
func CheckAllowedTarget(table string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(table, prefix) {
			return nil
		}
	}
	return fmt.Errorf("SQL Safety Check Failed: Modification not allowed on table '%s'. Target must be in '%s'.",
		table, strings.Join(allowed, "', '"))
}

// targetAfter returns the first identifier following from, skipping the
// given keywords. Hitting a statement boundary, a routine keyword, or
// anything that is not an identifier means no table target was found.
func targetAfter(toks []token, from int, skippable ...string) string {
	skip := make(map[string]bool, len(skippable))
	for _, w := range skippable {
		skip[w] = true
	}

	for i := from; i < len(toks); i++ {
		t := toks[i]
		if t.text == ";" {
			return ""
		}
		if !t.quoted {
			up := strings.ToUpper(t.text)
			if up == "FUNCTION" || up == "PROCEDURE" {
				return ""
			}
			if skip[up] {
				continue
			}
		}
		if t.quoted || isIdentifier(t.text) {
			return t.text
		}
		return ""
	}
	return ""
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func tokenize(sql string) []token {
	var toks []token
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
			for i+1 < n && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2

		case c == '\'' || c == '"':
			quote := c
			i++
			for i < n {
				if sql[i] == '\\' {
					i += 2
					continue
				}
				if sql[i] == quote {
					i++
					break
				}
				i++
			}

		case c == '`':
			start := i + 1
			i++
			for i < n && sql[i] != '`' {
				i++
			}
			toks = append(toks, token{text: sql[start:i], quoted: true})
			if i < n {
				i++
			}

		case c == ';':
			toks = append(toks, token{text: ";"})
			i++

		case isWordChar(c):
			start := i
			for i < n && isWordChar(sql[i]) {
				i++
			}
			toks = append(toks, token{text: sql[start:i]})

		default:
			if !isSpace(c) {
				toks = append(toks, token{text: string(c)})
			}
			i++
		}
	}
	return toks
}

func isWordChar(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
