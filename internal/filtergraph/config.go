package filtergraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jmylchreest/restorr/internal/apperr"
)

// BandCenters are the fixed equalizer centre frequencies in Hz, ascending.
var BandCenters = [5]int{125, 500, 1000, 3000, 6000}

// Defaults applied when a field is present but its value is omitted.
const (
	DefaultMix       = 0.8
	DefaultIntensity = 0.5
)

// Config describes the filters applied by one transcode. A nil section is
// disabled and contributes nothing to the compiled chain.
type Config struct {
	NoiseSuppression     *NoiseSuppression     `json:"rnnoise,omitempty"`
	Equalizer            *Equalizer            `json:"eq,omitempty"`
	DynamicNormalization *DynamicNormalization `json:"dynaudnorm,omitempty"`
}

// NoiseSuppression configures the RNN noise suppression stage.
type NoiseSuppression struct {
	// Model is a registry name (general, broadband, musicAmbient, extreme)
	// or a model file name such as cb.rnnn. Empty selects the default model.
	Model string   `json:"model,omitempty"`
	Mix   *float64 `json:"mix,omitempty"`
}

// Equalizer configures the high-pass, band and low-pass stages.
type Equalizer struct {
	HighPass *Cutoff `json:"hp,omitempty"`
	Bands    Bands   `json:"bands"`
	LowPass  *Cutoff `json:"lp,omitempty"`
}

// Cutoff is a filter corner frequency. A zero frequency disables the stage.
type Cutoff struct {
	Freq int `json:"freq"`
}

// DynamicNormalization configures the dynaudnorm stage.
type DynamicNormalization struct {
	Intensity *float64 `json:"intensity,omitempty"`
}

// Bands holds gains in dB indexed like BandCenters.
type Bands [5]float64

type bandObject struct {
	Freq int     `json:"freq"`
	Gain float64 `json:"gain"`
}

// UnmarshalJSON accepts either a positional array of up to five gains or an
// array of {freq, gain} objects in any order.
func (b *Bands) UnmarshalJSON(data []byte) error {
	*b = Bands{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bands must be an array: %w", err)
	}
	if len(raw) > len(BandCenters) {
		return fmt.Errorf("at most %d bands allowed, got %d", len(BandCenters), len(raw))
	}

	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var obj bandObject
			if err := json.Unmarshal(item, &obj); err != nil {
				return fmt.Errorf("band %d: %w", i, err)
			}
			idx := bandIndex(obj.Freq)
			if idx < 0 {
				return fmt.Errorf("band %d: unsupported centre frequency %d Hz", i, obj.Freq)
			}
			b[idx] = obj.Gain
			continue
		}

		var gain float64
		if err := json.Unmarshal(item, &gain); err != nil {
			return fmt.Errorf("band %d: %w", i, err)
		}
		b[i] = gain
	}
	return nil
}

func bandIndex(freq int) int {
	for i, c := range BandCenters {
		if c == freq {
			return i
		}
	}
	return -1
}

// ParseConfig decodes and validates a JSON filter configuration.
// An empty document is the all-disabled configuration.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, apperr.Validation("filtergraph.parse", "invalid filter configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsEmpty reports whether every filter family is disabled.
func (c Config) IsEmpty() bool {
	return c.NoiseSuppression == nil && c.Equalizer == nil && c.DynamicNormalization == nil
}

// Validate checks value ranges. It does not check that model files exist.
func (c Config) Validate() error {
	const op = "filtergraph.validate"

	if ns := c.NoiseSuppression; ns != nil {
		if ns.Model != "" {
			if _, ok := LookupModel(ns.Model); !ok {
				return apperr.Validation(op, "unknown noise model %q", ns.Model)
			}
		}
		if ns.Mix != nil && !unitInterval(*ns.Mix) {
			return apperr.Validation(op, "rnnoise mix must be between 0 and 1, got %v", *ns.Mix)
		}
	}

	if eq := c.Equalizer; eq != nil {
		if eq.HighPass != nil && eq.HighPass.Freq < 0 {
			return apperr.Validation(op, "high-pass cutoff must be positive, got %d", eq.HighPass.Freq)
		}
		if eq.LowPass != nil && eq.LowPass.Freq < 0 {
			return apperr.Validation(op, "low-pass cutoff must be positive, got %d", eq.LowPass.Freq)
		}
		for i, g := range eq.Bands {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				return apperr.Validation(op, "gain for %d Hz is not a finite number", BandCenters[i])
			}
		}
	}

	if dn := c.DynamicNormalization; dn != nil {
		if dn.Intensity != nil && !unitInterval(*dn.Intensity) {
			return apperr.Validation(op, "dynaudnorm intensity must be between 0 and 1, got %v", *dn.Intensity)
		}
	}

	return nil
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
