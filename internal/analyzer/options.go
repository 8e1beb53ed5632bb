package analyzer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultStandard is used when a request names no standard.
const DefaultStandard = "PSR12"

// MaxCodeBytes bounds the size of submitted source.
const MaxCodeBytes = 1000000

var (
	standardStrip = regexp.MustCompile(`[^a-zA-Z0-9_\-/]`)
	versionStrip  = regexp.MustCompile(`[^0-9.\-,]`)

	encodingPattern   = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
	extensionsPattern = regexp.MustCompile(`^[A-Za-z0-9_\-,/]+$`)
	sniffListPattern  = regexp.MustCompile(`^[A-Za-z0-9_.,]+$`)
)

// SanitizeStandard strips characters that cannot appear in a standard name
// or path, falling back to DefaultStandard.
func SanitizeStandard(s string) string {
	s = standardStrip.ReplaceAllString(s, "")
	if s == "" {
		return DefaultStandard
	}
	return s
}

// SanitizeVersion strips characters that cannot appear in a PHP version
// range such as "7.4-8.2".
func SanitizeVersion(s string) string {
	return versionStrip.ReplaceAllString(s, "")
}

// Option names accepted from clients.
const (
	OptReport          = "report"
	OptSeverity        = "severity"
	OptErrorSeverity   = "error-severity"
	OptWarningSeverity = "warning-severity"
	OptTabWidth        = "tab-width"
	OptEncoding        = "encoding"
	OptExtensions      = "extensions"
	OptSniffs          = "sniffs"
	OptExclude         = "exclude"
)

// Options is the closed set of engine flags a client may set. Unset fields
// are nil or empty.
type Options struct {
	Severity        *int
	ErrorSeverity   *int
	WarningSeverity *int
	TabWidth        *int
	Encoding        string
	Extensions      string
	Sniffs          string
	Exclude         string
}

// optionOrder is the order options are validated and passed to the engine.
var optionOrder = []string{
	OptSeverity, OptErrorSeverity, OptWarningSeverity, OptTabWidth,
	OptEncoding, OptExtensions, OptSniffs, OptExclude,
}

// ParseOptions validates client-supplied options. Unknown keys are dropped.
// The report option is accepted but ignored because results are always JSON.
func ParseOptions(raw map[string]any) (Options, error) {
	var opts Options
	// Fixed order so the first reported problem does not depend on map order.
	for _, name := range optionOrder {
		value, ok := raw[name]
		if !ok {
			continue
		}
		var err error
		switch name {
		case OptSeverity:
			opts.Severity, err = intOption(name, value, 0, 10)
		case OptErrorSeverity:
			opts.ErrorSeverity, err = intOption(name, value, 0, 10)
		case OptWarningSeverity:
			opts.WarningSeverity, err = intOption(name, value, 0, 10)
		case OptTabWidth:
			opts.TabWidth, err = intOption(name, value, 0, 64)
		case OptEncoding:
			opts.Encoding, err = stringOption(name, value, encodingPattern)
		case OptExtensions:
			opts.Extensions, err = stringOption(name, value, extensionsPattern)
		case OptSniffs:
			opts.Sniffs, err = stringOption(name, value, sniffListPattern)
		case OptExclude:
			opts.Exclude, err = stringOption(name, value, sniffListPattern)
		}
		if err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

// Map returns the set options keyed by flag name, for fingerprinting.
func (o Options) Map() map[string]string {
	m := make(map[string]string)
	setInt := func(name string, v *int) {
		if v != nil {
			m[name] = strconv.Itoa(*v)
		}
	}
	setStr := func(name, v string) {
		if v != "" {
			m[name] = v
		}
	}
	setInt(OptSeverity, o.Severity)
	setInt(OptErrorSeverity, o.ErrorSeverity)
	setInt(OptWarningSeverity, o.WarningSeverity)
	setInt(OptTabWidth, o.TabWidth)
	setStr(OptEncoding, o.Encoding)
	setStr(OptExtensions, o.Extensions)
	setStr(OptSniffs, o.Sniffs)
	setStr(OptExclude, o.Exclude)
	return m
}

// Args renders the options as engine flags in a fixed order.
func (o Options) Args() []string {
	m := o.Map()
	var args []string
	for _, name := range optionOrder {
		if v, ok := m[name]; ok {
			args = append(args, "--"+name+"="+v)
		}
	}
	return args
}

// OptionError reports an option with an unacceptable value.
type OptionError struct {
	Name   string
	Reason string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("invalid value for option %q: %s", e.Name, e.Reason)
}

func intOption(name string, value any, lo, hi int) (*int, error) {
	var n int
	switch v := value.(type) {
	case float64:
		if v != float64(int(v)) {
			return nil, &OptionError{Name: name, Reason: "must be an integer"}
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, &OptionError{Name: name, Reason: "must be an integer"}
		}
		n = parsed
	default:
		return nil, &OptionError{Name: name, Reason: "must be an integer"}
	}
	if n < lo || n > hi {
		return nil, &OptionError{Name: name, Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return &n, nil
}

func stringOption(name string, value any, pattern *regexp.Regexp) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &OptionError{Name: name, Reason: "must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if !pattern.MatchString(s) {
		return "", &OptionError{Name: name, Reason: "contains unsupported characters"}
	}
	return s, nil
}
