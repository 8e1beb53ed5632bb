package analyzer

import (
	"errors"
	"reflect"
	"testing"
)

func TestSanitize(t *testing.T) {
	standards := map[string]string{
		"PSR12":                 "PSR12",
		"":                      DefaultStandard,
		"PSR12; rm -rf /":       "PSR12rm-rf/",
		"$(whoami)":             "whoami",
		"!!!":                   DefaultStandard,
		"WordPress-Core":        "WordPress-Core",
		"vendor/ruleset_custom": "vendor/ruleset_custom",
	}
	for in, want := range standards {
		if got := SanitizeStandard(in); got != want {
			t.Errorf("SanitizeStandard(%q) = %q, want %q", in, got, want)
		}
	}

	versions := map[string]string{
		"7.4-8.2":     "7.4-8.2",
		"8.1":         "8.1",
		"8.0; ls":     "8.0",
		"abc":         "",
		"7.4,8.0-8.3": "7.4,8.0-8.3",
	}
	for in, want := range versions {
		if got := SanitizeVersion(in); got != want {
			t.Errorf("SanitizeVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseOptions(t *testing.T) {
	five, zero := 5, 0

	tests := []struct {
		name    string
		raw     map[string]any
		want    Options
		wantErr bool
	}{
		{"empty", nil, Options{}, false},
		{"number", map[string]any{"severity": float64(5)}, Options{Severity: &five}, false},
		{"numeric string", map[string]any{"severity": " 5 "}, Options{Severity: &five}, false},
		{"zero", map[string]any{"warning-severity": float64(0)}, Options{WarningSeverity: &zero}, false},
		{"report ignored", map[string]any{"report": "xml"}, Options{}, false},
		{"unknown dropped", map[string]any{"bootstrap": "/etc/passwd"}, Options{}, false},
		{"sniff list", map[string]any{"sniffs": "Generic.PHP.DisallowShortOpenTag,PSR2.Files.EndFileNewline"},
			Options{Sniffs: "Generic.PHP.DisallowShortOpenTag,PSR2.Files.EndFileNewline"}, false},
		{"blank string", map[string]any{"encoding": "  "}, Options{}, false},
		{"out of range", map[string]any{"severity": float64(11)}, Options{}, true},
		{"fraction", map[string]any{"tab-width": 2.5}, Options{}, true},
		{"wrong type", map[string]any{"severity": true}, Options{}, true},
		{"not a number", map[string]any{"error-severity": "high"}, Options{}, true},
		{"injection", map[string]any{"extensions": "php --bootstrap=x"}, Options{}, true},
		{"string wrong type", map[string]any{"exclude": float64(1)}, Options{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var optErr *OptionError
				if !errors.As(err, &optErr) {
					t.Errorf("error type = %T, want *OptionError", err)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseOptions() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseOptions_FirstErrorIsStable(t *testing.T) {
	raw := map[string]any{
		"exclude":          float64(1),
		"tab-width":        2.5,
		"severity":         true,
		"extensions":       "php --bootstrap=x",
		"warning-severity": "high",
	}

	for i := 0; i < 50; i++ {
		_, err := ParseOptions(raw)
		var optErr *OptionError
		if !errors.As(err, &optErr) {
			t.Fatalf("error = %v, want *OptionError", err)
		}
		if optErr.Name != OptSeverity {
			t.Fatalf("run %d reported %q, want %q", i, optErr.Name, OptSeverity)
		}
	}
}

func TestOptions_ArgsOrder(t *testing.T) {
	sev, tab := 4, 2
	o := Options{TabWidth: &tab, Severity: &sev, Encoding: "utf-8", Exclude: "A.B.C"}

	want := []string{"--severity=4", "--tab-width=2", "--encoding=utf-8", "--exclude=A.B.C"}
	if got := o.Args(); !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}

	wantMap := map[string]string{"severity": "4", "tab-width": "2", "encoding": "utf-8", "exclude": "A.B.C"}
	if got := o.Map(); !reflect.DeepEqual(got, wantMap) {
		t.Errorf("Map() = %v, want %v", got, wantMap)
	}
}
