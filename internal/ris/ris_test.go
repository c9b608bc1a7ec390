package ris

import (
	"errors"
	"strings"
	"testing"
)

const sample = "\uFEFFTY  - JOUR\r\n" +
	"TI  - Arsenic exposure and\r\n" +
	"      bladder cancer\r\n" +
	"AU  - Smith, Allan H.\r\n" +
	"AU  - Lee, K\r\n" +
	"PY  - 2018\r\n" +
	"DO  - 10.3390/ijerph15020340\r\n" +
	"ER  - \r\n" +
	"\r\n" +
	"TY  - CHAP\n" +
	"T1  - Benzene\n" +
	"AN  - WOS:000123\n" +
	"ER  -\n"

func TestParse(t *testing.T) {
	recs, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	first := recs[0]
	if got := first.Get("TY"); got != "JOUR" {
		t.Errorf("TY = %q, want JOUR", got)
	}
	if got := first.Get("TI"); got != "Arsenic exposure and bladder cancer" {
		t.Errorf("TI = %q", got)
	}
	if got := first["AU"]; len(got) != 2 || got[1] != "Lee, K" {
		t.Errorf("AU = %v", got)
	}
	if got := recs[1].Get("AN"); got != "WOS:000123" {
		t.Errorf("AN = %q", got)
	}
}

func TestParse_Unterminated(t *testing.T) {
	recs, err := Parse(strings.NewReader("TY  - JOUR\nTI  - Last one\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Get("TI") != "Last one" {
		t.Errorf("recs = %v", recs)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse(strings.NewReader("just some text\n")); !errors.Is(err, ErrNoRecords) {
		t.Errorf("Parse(text) error = %v, want ErrNoRecords", err)
	}
	if _, err := Parse(strings.NewReader("TI  - Orphan\n")); err == nil {
		t.Error("Parse(orphan tag) expected error")
	}
}
