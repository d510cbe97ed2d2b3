package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// DefaultChannels is assumed when a probe cannot report a channel count.
const DefaultChannels = 2

// ErrNoAudioStream is returned when a probed file carries no audio.
var ErrNoAudioStream = errors.New("no audio stream found")

// ProbeResult contains the ffprobe output fields restorr reads.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	NumStreams int    `json:"nb_streams"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"` // audio, video, ...
	SampleFmt     string `json:"sample_fmt,omitempty"`
	SampleRate    string `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	Duration      string `json:"duration,omitempty"`
}

// AudioInfo is the simplified view of the first audio stream of a file.
type AudioInfo struct {
	Codec      string        `json:"codec"`
	Channels   int           `json:"channels"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	Format     string        `json:"format"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs ffprobe on a local file and decodes its JSON report.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timed out after %s", p.timeout)
		}
		return nil, fmt.Errorf("running ffprobe: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// ProbeAudio probes path and summarizes its first audio stream.
func (p *Prober) ProbeAudio(ctx context.Context, path string) (*AudioInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.AudioInfo()
}

// Channels returns the channel count of path's first audio stream, or
// DefaultChannels when the file cannot be probed.
func (p *Prober) Channels(ctx context.Context, path string) int {
	info, err := p.ProbeAudio(ctx, path)
	if err != nil || info.Channels < 1 {
		return DefaultChannels
	}
	return info.Channels
}

// AudioStream returns the first audio stream, if any.
func (r *ProbeResult) AudioStream() (*ProbeStream, bool) {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "audio" {
			return &r.Streams[i], true
		}
	}
	return nil, false
}

// AudioInfo summarizes the first audio stream.
func (r *ProbeResult) AudioInfo() (*AudioInfo, error) {
	stream, ok := r.AudioStream()
	if !ok {
		return nil, ErrNoAudioStream
	}

	info := &AudioInfo{
		Codec:    stream.CodecName,
		Channels: stream.Channels,
		Format:   r.Format.FormatName,
	}
	if info.Channels < 1 {
		info.Channels = DefaultChannels
	}
	info.SampleRate, _ = strconv.Atoi(stream.SampleRate)

	duration := r.Format.Duration
	if duration == "" {
		duration = stream.Duration
	}
	if secs, err := strconv.ParseFloat(duration, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

// FormatDuration renders d as HH:MM:SS, truncating fractional seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
