package dates

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func TestClampInvalidDays(t *testing.T) {
	tests := []struct {
		raw       string
		want      string
		corrected bool
	}{
		{"31.04.2026", "30.04.2026", true},
		{"29.02.2025", "28.02.2025", true},
		{"29.02.2024", "29.02.2024", false},
		{"15.01.2026", "15.01.2026", false},
	}
	for _, tt := range tests {
		d, ok := ParseFull(tt.raw)
		if !ok {
			t.Fatalf("ParseFull(%q) failed", tt.raw)
		}
		if got := Format(d.Time); got != tt.want {
			t.Errorf("ParseFull(%q) = %s, want %s", tt.raw, got, tt.want)
		}
		if (d.Correction != nil) != tt.corrected {
			t.Errorf("ParseFull(%q) correction = %+v", tt.raw, d.Correction)
		}
		if d.Correction != nil && (d.Correction.Original != tt.raw || d.Correction.Corrected != tt.want) {
			t.Errorf("correction carries %+v", d.Correction)
		}
	}
}

func TestParseFullFormats(t *testing.T) {
	tests := map[string]string{
		"01/02/2026":          "01.02.2026",
		"01-02-2026":          "01.02.2026",
		"2026-02-01":          "01.02.2026",
		"2026-02-01 00:00:00": "01.02.2026",
		"46023":               "01.01.2026",
	}
	for raw, want := range tests {
		d, ok := ParseFull(raw)
		if !ok || Format(d.Time) != want {
			t.Errorf("ParseFull(%q) = %v %v, want %s", raw, Format(d.Time), ok, want)
		}
	}
	for _, raw := range []string{"", "next week", "32.01.2026", "10.13.2026", "2026/02/01", "1.2"} {
		if _, ok := ParseFull(raw); ok {
			t.Errorf("ParseFull(%q) should be unparseable", raw)
		}
	}
}

func TestParseDayMonthYearPriority(t *testing.T) {
	hints := YearHints{Header: 2027, Filename: 2026, Planning: 2025}

	d, ok := ParseDayMonth("10-03", hints, fixedNow)
	if !ok || d.Time.Year() != 2027 || !d.Partial {
		t.Fatalf("header year should win: %+v %v", d, ok)
	}
	hints.Header = 0
	d, _ = ParseDayMonth("10-03", hints, fixedNow)
	if d.Time.Year() != 2026 {
		t.Fatalf("filename year should win: %+v", d)
	}
	hints.Filename = 0
	d, _ = ParseDayMonth("10-03", hints, fixedNow)
	if d.Time.Year() != 2025 {
		t.Fatalf("planning year should win: %+v", d)
	}
	hints.Planning = 0
	d, _ = ParseDayMonth("10-03", hints, fixedNow)
	if d.Time.Year() != 2026 {
		t.Fatalf("current year fallback: %+v", d)
	}
}

func TestParseDayMonthExplicitYear(t *testing.T) {
	d, ok := ParseDayMonth("31-04-2026", YearHints{Header: 2030}, fixedNow)
	if !ok || d.Partial || Format(d.Time) != "30.04.2026" || d.Correction == nil {
		t.Fatalf("unexpected %+v %v", d, ok)
	}
	d, ok = ParseDayMonth("05.07.26", YearHints{}, fixedNow)
	if !ok || !d.Partial || Format(d.Time) != "05.07.2026" {
		t.Fatalf("two-digit year: %+v %v", d, ok)
	}
	if _, ok := ParseDayMonth("5 июля", YearHints{}, fixedNow); ok {
		t.Fatal("free text should not parse")
	}
}

func TestOrderRange(t *testing.T) {
	a, b := Day(2026, 5, 10), Day(2026, 5, 1)
	s, e, swapped := OrderRange(a, b)
	if !swapped || !s.Equal(b) || !e.Equal(a) {
		t.Fatalf("expected swap, got %s %s %v", s, e, swapped)
	}
	_, _, swapped = OrderRange(b, a)
	if swapped {
		t.Fatal("ordered range must not swap")
	}
}

func TestHeaderAndFilenameYear(t *testing.T) {
	if y := HeaderYear("ПРОТОКОЛ совещания от 12.03.2027\nПрисутствовали: ..."); y != 2027 {
		t.Fatalf("HeaderYear = %d", y)
	}
	long := make([]rune, 600)
	for i := range long {
		long[i] = 'х'
	}
	if y := HeaderYear(string(long) + " 2027"); y != 0 {
		t.Fatalf("year outside header window should be ignored, got %d", y)
	}
	if y := FilenameYear("protocol_2026-03-12.docx"); y != 2026 {
		t.Fatalf("FilenameYear = %d", y)
	}
	if y := FilenameYear("minutes.txt"); y != 0 {
		t.Fatalf("FilenameYear = %d", y)
	}
}

func TestInferPlanningYear(t *testing.T) {
	today := fixedNow
	tests := []struct {
		name   string
		starts []time.Time
		want   int
		ok     bool
	}{
		{"empty", nil, 0, false},
		{"earliest future wins", []time.Time{Day(2027, 1, 1), Day(2026, 9, 1), Day(2024, 1, 1), Day(2024, 2, 1)}, 2026, true},
		{"today counts as future", []time.Time{Day(2026, 6, 15), Day(2028, 1, 1)}, 2026, true},
		{"mode of past years", []time.Time{Day(2024, 1, 1), Day(2024, 2, 1), Day(2025, 1, 1)}, 2024, true},
		{"mode tie goes to later year", []time.Time{Day(2024, 1, 1), Day(2025, 1, 1)}, 2025, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InferPlanningYear(tt.starts, today)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("got %d %v, want %d %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

type fakePlan struct {
	starts map[string][]time.Time
	err    error
	lines  []string
}

func (f *fakePlan) PlanStartDates(ctx context.Context, line string) ([]time.Time, error) {
	f.lines = append(f.lines, line)
	return f.starts[line], f.err
}

func TestNormalizerPlanningYear(t *testing.T) {
	src := &fakePlan{starts: map[string][]time.Time{
		"":        {Day(2025, 3, 1)},
		"Line_66": {Day(2027, 3, 1)},
	}}
	n := NewNormalizer(src, 0, nil).WithClock(func() time.Time { return fixedNow })
	ctx := context.Background()

	if y := n.PlanningYear(ctx, "Line_66"); y != 2027 {
		t.Fatalf("scoped year = %d", y)
	}
	if y := n.PlanningYear(ctx, ""); y != 2025 {
		t.Fatalf("global year = %d", y)
	}
	if y := n.PlanningYear(ctx, "Line_1"); y != 2026 {
		t.Fatalf("no data should fall back to current year, got %d", y)
	}

	withDefault := NewNormalizer(&fakePlan{err: errors.New("boom")}, 2030, nil).WithClock(func() time.Time { return fixedNow })
	if y := withDefault.PlanningYear(ctx, ""); y != 2030 {
		t.Fatalf("configured default expected, got %d", y)
	}
	if y := NewNormalizer(nil, 0, nil).WithClock(func() time.Time { return fixedNow }).PlanningYear(ctx, ""); y != 2026 {
		t.Fatalf("nil source should use current year, got %d", y)
	}
}

func TestNormalizerComplete(t *testing.T) {
	n := NewNormalizer(nil, 0, nil).WithClock(func() time.Time { return fixedNow })
	d, ok := n.Complete("31-04", YearHints{Filename: 2026})
	if !ok || Format(d.Time) != "30.04.2026" || !d.Partial || d.Correction == nil {
		t.Fatalf("unexpected %+v %v", d, ok)
	}
}
