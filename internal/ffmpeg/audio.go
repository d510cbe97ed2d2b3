package ffmpeg

import "strconv"

// Encoder settings shared by intake and restoration outputs.
const (
	WaveformColor = "0x87CEEB"
	previewQ      = "5"
	previewRate   = "128k"
	archiveRate   = "256k"
)

func previewArgs(mapping string) []string {
	args := []string{}
	if mapping != "" {
		args = append(args, "-map", mapping)
	}
	return append(args, "-c:a", "libmp3lame", "-q:a", previewQ, "-b:a", previewRate)
}

// NewRestoreCommand builds one ffmpeg invocation that applies chain to
// input and writes both the MP3 preview and the MP2 archive. The chain
// feeds an asplit so both encodings carry the same filtered signal; an
// empty chain maps the input audio straight to both encoders.
func NewRestoreCommand(ffmpegPath, input, chain, preview, archive string, sampleRate int) *Command {
	b := NewCommandBuilder(ffmpegPath).HideBanner().NoStdin().Overwrite().Input(input)

	previewMap, archiveMap := "0:a", "0:a"
	if chain != "" {
		b.FilterComplex("[0:a]" + chain + ",asplit=2[preview][archive]")
		previewMap, archiveMap = "[preview]", "[archive]"
	}

	b.Output(preview, previewArgs(previewMap)...)
	b.Output(archive,
		"-map", archiveMap,
		"-c:a", "libtwolame",
		"-b:a", archiveRate,
		"-ar", strconv.Itoa(sampleRate),
	)
	return b.Build()
}

// NewResampleCommand converts input's first audio stream to 16-bit PCM WAV
// at sampleRate.
func NewResampleCommand(ffmpegPath, input, output string, sampleRate int) *Command {
	return NewCommandBuilder(ffmpegPath).HideBanner().NoStdin().Overwrite().
		Input(input).
		Output(output,
			"-map", "0:a:0",
			"-vn",
			"-acodec", "pcm_s16le",
			"-ar", strconv.Itoa(sampleRate),
		).
		Build()
}

// NewPreviewCommand encodes input as the MP3 preview.
func NewPreviewCommand(ffmpegPath, input, output string) *Command {
	return NewCommandBuilder(ffmpegPath).HideBanner().NoStdin().Overwrite().
		Input(input).
		Output(output, previewArgs("")...).
		Build()
}

// NewWaveformCommand renders a single-frame waveform picture of input.
func NewWaveformCommand(ffmpegPath, input, output, size string) *Command {
	return NewCommandBuilder(ffmpegPath).HideBanner().NoStdin().Overwrite().
		Input(input).
		FilterComplex("showwavespic=s=" + size + ":colors=" + WaveformColor + ":scale=log").
		Output(output, "-frames:v", "1").
		Build()
}
