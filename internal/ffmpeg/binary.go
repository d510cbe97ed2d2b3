// Package ffmpeg provides FFmpeg/FFprobe binary detection, command building,
// supervised execution and audio probing.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/restorr/internal/util"
)

// Environment variables consulted when no binary path is configured.
const (
	FFmpegBinaryEnv  = "RESTORR_FFMPEG_BINARY"
	FFprobeBinaryEnv = "RESTORR_FFPROBE_BINARY"
)

// RequiredEncoders are the encoders a restoration job writes with.
var RequiredEncoders = []string{"libmp3lame", "libtwolame"}

// RequiredFilters are the filters the compiled chains and waveforms rely on.
var RequiredFilters = []string{
	"aformat", "arnndn", "highpass", "equalizer", "lowpass",
	"dynaudnorm", "asplit", "showwavespic",
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path"`
	Version       string   `json:"version"`
	MajorVersion  int      `json:"major_version"`
	MinorVersion  int      `json:"minor_version"`
	Configuration string   `json:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty"`
	Filters       []string `json:"filters,omitempty"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths are auto-detected.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect detects FFmpeg and FFprobe binaries and their capabilities.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath, err := util.FindBinary("ffmpeg", d.ffmpegPath, FFmpegBinaryEnv)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info.FFmpegPath = ffmpegPath

	// Uploads cannot be accepted without ffprobe.
	ffprobePath, err := util.FindBinary("ffprobe", d.ffprobePath, FFprobeBinaryEnv)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	info.FFprobePath = ffprobePath

	version, err := getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	info.Version = version.Full
	info.MajorVersion = version.Major
	info.MinorVersion = version.Minor
	info.Configuration = version.Configuration

	if out, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(string(out))
	}
	if out, err := exec.CommandContext(ctx, ffmpegPath, "-filters", "-hide_banner").Output(); err == nil {
		info.Filters = parseFilters(string(out))
	}

	return info, nil
}

type versionInfo struct {
	Full          string
	Major         int
	Minor         int
	Configuration string
}

func getVersion(ctx context.Context, ffmpegPath string) (*versionInfo, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, err
	}
	return parseVersion(string(output))
}

// parseVersion reads "ffmpeg version 6.0 Copyright...", "n6.0-2-g..." or "6.0.1".
func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}
	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Full = parts[2]
			if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
				info.Major, _ = strconv.Atoi(m[1])
				info.Minor, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}
	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseEncoders reads `ffmpeg -encoders` output.
// Format after the "------" separator: " A....D libmp3lame  description".
func parseEncoders(output string) []string {
	var encoders []string
	inList := false
	for line := range strings.SplitSeq(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		if c := fields[0][0]; c != 'V' && c != 'A' && c != 'S' {
			continue
		}
		encoders = append(encoders, fields[1])
	}
	return encoders
}

// parseFilters reads `ffmpeg -filters` output.
// Filter lines look like " ... arnndn  A->A  Reduce noise from speech using RNN".
func parseFilters(output string) []string {
	var filters []string
	for line := range strings.SplitSeq(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !strings.Contains(fields[2], "->") {
			continue
		}
		filters = append(filters, fields[1])
	}
	return filters
}

// HasEncoder returns true if the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasFilter returns true if the filter is available.
func (info *BinaryInfo) HasFilter(name string) bool {
	return slices.Contains(info.Filters, name)
}

// MissingRequirements lists required encoders and filters the installation
// lacks. An empty result means every restoration feature can run.
func (info *BinaryInfo) MissingRequirements() []string {
	var missing []string
	for _, e := range RequiredEncoders {
		if !info.HasEncoder(e) {
			missing = append(missing, "encoder:"+e)
		}
	}
	for _, f := range RequiredFilters {
		if !info.HasFilter(f) {
			missing = append(missing, "filter:"+f)
		}
	}
	return missing
}

// JSON returns the binary info as JSON string.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion > major {
		return true
	}
	return info.MajorVersion == major && info.MinorVersion >= minor
}
