package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrMissingColumns matches *MissingColumnsError with errors.Is.
var ErrMissingColumns = errors.New("missing required columns")

// MissingColumnsError rejects a plan file whose header lacks a required column.
type MissingColumnsError struct {
	Expected []string
	Found    []string
	Missing  []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns %s (expected %s, found %s)",
		quoteList(e.Missing), quoteList(e.Expected), quoteList(e.Found))
}

func (e *MissingColumnsError) Is(target error) bool { return target == ErrMissingColumns }

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(q, ", ") + "]"
}

type column int

const (
	colTask column = iota
	colProduct
	colStart
	colEnd
	colLine
)

// Canonical header names, in column order.
var expectedHeaders = []string{"Произ. Задание", "Продукт", "Начало выполнения", "Завершение выполнения"}

var exactHeaders = map[column][]string{
	colTask:    {"произ. задание", "производственное задание"},
	colProduct: {"продукт"},
	colStart:   {"начало выполнения"},
	colEnd:     {"завершение выполнения"},
	colLine:    {"линия", "line"},
}

var fuzzyHeaders = map[column][]string{
	colTask:    {"произ", "задан", "задач", "task"},
	colProduct: {"продукт", "издели", "товар", "product"},
	colStart:   {"начал", "старт", "start"},
	colEnd:     {"заверш", "оконч", "finish", "end"},
	colLine:    {"лини"},
}

// matchHeaders maps logical columns to header indices, exact names first and
// substring heuristics for whatever is left. The line column is optional.
func matchHeaders(header []string) (map[column]int, error) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = strings.ToLower(strings.Join(strings.Fields(h), " "))
	}

	found := map[column]int{}
	taken := map[int]bool{}
	assign := func(c column, i int) {
		found[c] = i
		taken[i] = true
	}

	order := []column{colTask, colProduct, colStart, colEnd, colLine}
	for _, c := range order {
		for i, h := range norm {
			if !taken[i] && slices.Contains(exactHeaders[c], h) {
				assign(c, i)
				break
			}
		}
	}
	for _, c := range order {
		if _, ok := found[c]; ok {
			continue
		}
	scan:
		for i, h := range norm {
			if taken[i] || h == "" {
				continue
			}
			for _, frag := range fuzzyHeaders[c] {
				if strings.Contains(h, frag) {
					assign(c, i)
					break scan
				}
			}
		}
	}

	var missing []string
	for c := colTask; c <= colEnd; c++ {
		if _, ok := found[c]; !ok {
			missing = append(missing, expectedHeaders[c])
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{
			Expected: append([]string(nil), expectedHeaders...),
			Found:    append([]string(nil), header...),
			Missing:  missing,
		}
	}
	return found, nil
}
