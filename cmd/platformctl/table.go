package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"os"
)

// printTable renders v (a struct, map, or slice of either) as a simple
// aligned table by round-tripping through JSON into generic maps, since
// platformctl's responses come from several independently-typed admin
// endpoints that don't share a common struct to print against.
func printTable(v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		fmt.Println(v)
		return
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(raw, &rows); err != nil {
		var row map[string]interface{}
		if err := json.Unmarshal(raw, &row); err != nil {
			fmt.Println(string(raw))
			return
		}
		rows = []map[string]interface{}{row}
	}

	if len(rows) == 0 {
		fmt.Println("(no results)")
		return
	}

	columns := columnsOf(rows)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, c := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, c := range columns {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, formatCell(row[c]))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

func columnsOf(rows []map[string]interface{}) []string {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

func formatCell(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
