package bigquery

import "testing"

func TestReplaceTemplateVariables(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "current date",
			in:   `SELECT * FROM t WHERE dt = '${zdt.format("yyyy-MM-dd")}'`,
			want: `SELECT * FROM t WHERE dt = FORMAT_DATE('%Y-%m-%d', CURRENT_DATE())`,
		},
		{
			name: "current datetime",
			in:   `SELECT '${zdt.format("yyyy-MM-dd HH:mm:ss")}' AS ts`,
			want: `SELECT FORMAT_TIMESTAMP('%Y-%m-%d %H:%M:%S', CURRENT_TIMESTAMP()) AS ts`,
		},
		{
			name: "compact current date",
			in:   `WHERE dt = '${zdt.format("yyyyMMdd")}'`,
			want: `WHERE dt = FORMAT_DATE('%Y%m%d', CURRENT_DATE())`,
		},
		{
			name: "date offset",
			in:   `WHERE dt = '${zdt.addDay(-1).format("yyyy-MM-dd")}'`,
			want: `WHERE dt = FORMAT_DATE('%Y-%m-%d', DATE_ADD(CURRENT_DATE(), INTERVAL -1 DAY))`,
		},
		{
			name: "datetime offset",
			in:   `WHERE ts >= '${zdt.addDay(-1).format("yyyy-MM-dd HH:mm:ss")}'`,
			want: `WHERE ts >= FORMAT_TIMESTAMP('%Y-%m-%d %H:%M:%S', TIMESTAMP_ADD(CURRENT_TIMESTAMP(), INTERVAL -1 DAY))`,
		},
		{
			name: "compact date offset",
			in:   `WHERE dt = '${zdt.addDay(-7).format("yyyyMMdd")}'`,
			want: `WHERE dt = FORMAT_DATE('%Y%m%d', DATE_ADD(CURRENT_DATE(), INTERVAL -7 DAY))`,
		},
		{
			name: "positive offset without quotes",
			in:   `WHERE dt = ${zdt.addDay(7).format("yyyy-MM-dd")}`,
			want: `WHERE dt = FORMAT_DATE('%Y-%m-%d', DATE_ADD(CURRENT_DATE(), INTERVAL 7 DAY))`,
		},
		{
			name: "unknown zdt macro degrades to today",
			in:   `WHERE dt = '${zdt.lastMonth().format("MM")}'`,
			want: `WHERE dt = FORMAT_DATE('%Y-%m-%d', CURRENT_DATE())`,
		},
		{
			name: "unknown variable becomes placeholder",
			in:   `WHERE batch = '${bizdate}'`,
			want: `WHERE batch = 'PLACEHOLDER'`,
		},
		{
			name: "unquoted variable gains quotes",
			in:   `WHERE batch = ${env}`,
			want: `WHERE batch = 'PLACEHOLDER'`,
		},
		{
			name: "multiple macros in one statement",
			in:   `WHERE dt BETWEEN '${zdt.addDay(-1).format("yyyy-MM-dd")}' AND '${zdt.format("yyyy-MM-dd")}'`,
			want: `WHERE dt BETWEEN FORMAT_DATE('%Y-%m-%d', DATE_ADD(CURRENT_DATE(), INTERVAL -1 DAY)) AND FORMAT_DATE('%Y-%m-%d', CURRENT_DATE())`,
		},
		{
			name: "plain sql untouched",
			in:   `SELECT * FROM t WHERE dt = '2024-01-01'`,
			want: `SELECT * FROM t WHERE dt = '2024-01-01'`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ReplaceTemplateVariables(tc.in)
			if got != tc.want {
				t.Fatalf("got  %s\nwant %s", got, tc.want)
			}
		})
	}
}
