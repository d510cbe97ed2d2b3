package filtergraph

import (
	"strconv"
	"strings"
)

// Stage names emitted by the compiler.
const (
	StageFormat       = "aformat"
	StageNoise        = "arnndn"
	StageHighPass     = "highpass"
	StageBand         = "equalizer"
	StageLowPass      = "lowpass"
	StageNormalize    = "dynaudnorm"
	channelLayoutsKey = "channel_layouts"
)

// Param is one key=value option of a stage.
type Param struct {
	Key   string
	Value string
}

// Stage is one named, parameterized filter in a chain.
type Stage struct {
	Name   string
	Params []Param
}

// String renders the stage in ffmpeg filter syntax.
func (s Stage) String() string {
	if len(s.Params) == 0 {
		return s.Name
	}
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('=')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Param returns the value of key and whether it is set.
func (s Stage) Param(key string) (string, bool) {
	for _, p := range s.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Chain is an ordered list of stages. The zero value is a pass-through.
type Chain []Stage

// String renders the chain as a comma-separated filter expression.
func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, s := range c {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

// Empty reports whether the chain applies no filtering.
func (c Chain) Empty() bool {
	return len(c) == 0
}

// Names returns the stage names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name
	}
	return names
}

func channelLayout(layout string) Stage {
	return Stage{Name: StageFormat, Params: []Param{{channelLayoutsKey, layout}}}
}

// formatNumber renders v in the shortest form that round-trips.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeValue escapes an option value for use inside a filtergraph
// description: once for the option parser, once for the graph parser.
func escapeValue(v string) string {
	return escapeChars(escapeChars(v, `\':`), `\'[],;`)
}

func escapeChars(v, special string) string {
	if !strings.ContainsAny(v, special) {
		return v
	}
	var b strings.Builder
	for _, r := range v {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
