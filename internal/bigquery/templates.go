package bigquery

import "regexp"

// Scheduler macros like ${zdt.addDay(-1).format("yyyyMMdd")} survive
// conversion as string literals. The dry run would reject them, so each
// known pattern is swapped for the BigQuery expression it stands for.
// Surrounding quotes are consumed so the expression is not re-quoted.
var templateReplacements = []struct {
	re   *regexp.Regexp
	repl string
}{
	{
		regexp.MustCompile(`'?\$\{zdt\.addDay\((-?\d+)\)\.format\(['"]yyyy-MM-dd['"]\)\}'?`),
		`FORMAT_DATE('%Y-%m-%d', DATE_ADD(CURRENT_DATE(), INTERVAL $1 DAY))`,
	},
	{
		regexp.MustCompile(`'?\$\{zdt\.addDay\((-?\d+)\)\.format\(['"]yyyy-MM-dd HH:mm:ss['"]\)\}'?`),
		`FORMAT_TIMESTAMP('%Y-%m-%d %H:%M:%S', TIMESTAMP_ADD(CURRENT_TIMESTAMP(), INTERVAL $1 DAY))`,
	},
	{
		regexp.MustCompile(`'?\$\{zdt\.addDay\((-?\d+)\)\.format\(['"]yyyyMMdd['"]\)\}'?`),
		`FORMAT_DATE('%Y%m%d', DATE_ADD(CURRENT_DATE(), INTERVAL $1 DAY))`,
	},
	{
		regexp.MustCompile(`'?\$\{zdt\.format\(['"]yyyy-MM-dd['"]\)\}'?`),
		`FORMAT_DATE('%Y-%m-%d', CURRENT_DATE())`,
	},
	{
		regexp.MustCompile(`'?\$\{zdt\.format\(['"]yyyy-MM-dd HH:mm:ss['"]\)\}'?`),
		`FORMAT_TIMESTAMP('%Y-%m-%d %H:%M:%S', CURRENT_TIMESTAMP())`,
	},
	{
		regexp.MustCompile(`'?\$\{zdt\.format\(['"]yyyyMMdd['"]\)\}'?`),
		`FORMAT_DATE('%Y%m%d', CURRENT_DATE())`,
	},
	// Any other zdt macro degrades to today's date.
	{
		regexp.MustCompile(`'?\$\{zdt\.[^}]+\}'?`),
		`FORMAT_DATE('%Y-%m-%d', CURRENT_DATE())`,
	},
	// Catch-all for remaining template variables.
	{
		regexp.MustCompile(`'?\$\{[^}]+\}'?`),
		`'PLACEHOLDER'`,
	},
}

// ReplaceTemplateVariables rewrites scheduler macros into valid BigQuery
// expressions. Only the dry run path uses this; the stored conversion
// result keeps the macros intact.
func ReplaceTemplateVariables(sql string) string {
	for _, r := range templateReplacements {
		sql = r.re.ReplaceAllString(sql, r.repl)
	}
	return sql
}
