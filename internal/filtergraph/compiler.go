// Package filtergraph compiles a structured restoration filter
// configuration into an ordered ffmpeg audio filter chain.
//
// Stage order is fixed and independent of how the configuration was
// written:
//
//  1. channel layout (mono when noise suppression runs or the input is mono)
//  2. arnndn noise suppression
//  3. highpass, equalizer bands ascending by centre, lowpass
//  4. dynaudnorm
//  5. stereo restore when suppression ran on a mono input
package filtergraph

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// NormalizationProfile is the dynaudnorm parameter set chosen by intensity.
type NormalizationProfile struct {
	Name      string
	TargetRMS float64
	Threshold float64
	Smoothing float64
}

var (
	profileConservative = NormalizationProfile{Name: "conservative", TargetRMS: 0.20, Threshold: 0.10, Smoothing: 5.0}
	profileNormal       = NormalizationProfile{Name: "normal", TargetRMS: 0.15, Threshold: 0.05, Smoothing: 10.0}
	profileAggressive   = NormalizationProfile{Name: "aggressive", TargetRMS: 0.10, Threshold: 0.01, Smoothing: 15.0}
)

// ProfileFor maps an intensity in [0,1] to a normalization profile.
// Boundaries are inclusive on the lower profile: 0.3 is conservative and
// 0.7 is normal.
func ProfileFor(intensity float64) NormalizationProfile {
	switch {
	case intensity <= 0.3:
		return profileConservative
	case intensity <= 0.7:
		return profileNormal
	default:
		return profileAggressive
	}
}

// ModelStatus reports whether a model file is installed.
type ModelStatus struct {
	Model
	Path      string `json:"path"`
	Available bool   `json:"available"`
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithLogger sets the logger used for degraded-stage warnings.
func WithLogger(logger *slog.Logger) CompilerOption {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// Compiler turns a Config into a Chain. The only I/O it performs is a
// read-only existence check of the selected noise model.
type Compiler struct {
	modelsDir string
	logger    *slog.Logger
}

// NewCompiler creates a compiler that resolves models under modelsDir.
func NewCompiler(modelsDir string, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		modelsDir: modelsDir,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelPath returns the absolute path of a model file.
func (c *Compiler) ModelPath(m Model) string {
	return filepath.Join(c.modelsDir, m.File)
}

// Models reports every registered model and whether its file exists.
func (c *Compiler) Models() []ModelStatus {
	out := make([]ModelStatus, 0, len(models))
	for _, m := range models {
		path := c.ModelPath(m)
		out = append(out, ModelStatus{Model: m, Path: path, Available: fileExists(path)})
	}
	return out
}

// Compile builds the filter chain for an input with inputChannels channels.
// A configuration with every family disabled yields an empty chain.
// A missing or unknown noise model omits the suppression stage and logs a
// warning; the rest of the chain is unaffected.
func (c *Compiler) Compile(inputChannels int, cfg Config) Chain {
	var chain Chain
	mono := inputChannels == 1
	ns := cfg.NoiseSuppression

	if ns != nil || mono {
		chain = append(chain, channelLayout("mono"))
	}

	if ns != nil {
		if stage, ok := c.noiseStage(ns); ok {
			chain = append(chain, stage)
		}
	}

	if eq := cfg.Equalizer; eq != nil {
		if eq.HighPass != nil && eq.HighPass.Freq > 0 {
			chain = append(chain, passStage(StageHighPass, eq.HighPass.Freq))
		}
		for i, gain := range eq.Bands {
			if gain == 0 {
				continue
			}
			chain = append(chain, Stage{Name: StageBand, Params: []Param{
				{"f", fmt.Sprintf("%d", BandCenters[i])},
				{"t", "q"},
				{"width", "1.0"},
				{"g", formatNumber(gain)},
			}})
		}
		if eq.LowPass != nil && eq.LowPass.Freq > 0 {
			chain = append(chain, passStage(StageLowPass, eq.LowPass.Freq))
		}
	}

	if dn := cfg.DynamicNormalization; dn != nil {
		intensity := DefaultIntensity
		if dn.Intensity != nil {
			intensity = *dn.Intensity
		}
		p := ProfileFor(intensity)
		chain = append(chain, Stage{Name: StageNormalize, Params: []Param{
			{"f", "200"},
			{"g", "15"},
			{"p", "0.9"},
			{"m", fmt.Sprintf("%.1f", p.Smoothing)},
			{"cf", "0.0"},
			{"targetrms", fmt.Sprintf("%.2f", p.TargetRMS)},
			{"threshold", fmt.Sprintf("%.2f", p.Threshold)},
		}})
	}

	if ns != nil && mono {
		chain = append(chain, channelLayout("stereo"))
	}

	return chain
}

func (c *Compiler) noiseStage(ns *NoiseSuppression) (Stage, bool) {
	model, ok := LookupModel(ns.Model)
	if !ok {
		c.logger.Warn("unknown noise model, skipping noise suppression",
			slog.String("model", ns.Model),
		)
		return Stage{}, false
	}

	path := c.ModelPath(model)
	if !fileExists(path) {
		c.logger.Warn("noise model not installed, skipping noise suppression",
			slog.String("model", model.Name),
			slog.String("path", path),
		)
		return Stage{}, false
	}

	mix := DefaultMix
	if ns.Mix != nil {
		mix = *ns.Mix
	}

	return Stage{Name: StageNoise, Params: []Param{
		{"m", escapeValue(path)},
		{"mix", formatNumber(mix)},
	}}, true
}

func passStage(name string, freq int) Stage {
	return Stage{Name: name, Params: []Param{
		{"f", fmt.Sprintf("%d", freq)},
		{"poles", "2"},
	}}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
