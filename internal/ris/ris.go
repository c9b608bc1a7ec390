// Package ris parses RIS citation exports into raw tag maps.
package ris

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Record is one RIS entry: tag -> values in file order.
type Record map[string][]string

// Get returns the first value for tag, or "".
func (r Record) Get(tag string) string {
	if v := r[tag]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// ErrNoRecords is returned for input that holds no RIS entries at all.
var ErrNoRecords = errors.New("no RIS records found")

// tagLine matches "TY  - JOUR". Some exporters drop the trailing space on
// empty values ("ER  -").
var tagLine = regexp.MustCompile(`^([A-Z][A-Z0-9])  -(?: (.*))?$`)

// maxLine bounds a single line; abstracts can be long.
const maxLine = 1 << 20

// Parse reads every record from r. Lines that do not start a tag continue
// the previous tag's value. A final record missing its ER line is kept.
func Parse(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var (
		records []Record
		cur     Record
		lastTag string
		lineNo  int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}

		m := tagLine.FindStringSubmatch(line)
		if m == nil {
			text := strings.TrimSpace(line)
			if text == "" || cur == nil || lastTag == "" {
				continue
			}
			vals := cur[lastTag]
			vals[len(vals)-1] = strings.TrimSpace(vals[len(vals)-1] + " " + text)
			continue
		}

		tag, value := m[1], strings.TrimSpace(m[2])
		switch {
		case tag == "TY":
			if cur != nil {
				records = append(records, cur)
			}
			cur = Record{"TY": {value}}
			lastTag = tag
		case tag == "ER":
			if cur != nil {
				records = append(records, cur)
			}
			cur, lastTag = nil, ""
		case cur == nil:
			return nil, fmt.Errorf("line %d: tag %s outside of a record", lineNo, tag)
		default:
			cur[tag] = append(cur[tag], value)
			lastTag = tag
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading RIS: %w", err)
	}
	if cur != nil {
		records = append(records, cur)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}
