package stt

// Request carries one complete recorded audio file to be transcribed.
type Request struct {
	// Audio is the raw file content as delivered by the channel.
	Audio []byte

	// Filename hints the container format to the provider ("voice.ogg").
	// Providers that infer the codec from the file extension require it.
	Filename string

	// MIMEType is the declared content type of Audio ("audio/ogg").
	// May be empty when the channel did not report one.
	MIMEType string

	// Language optionally hints the spoken language as an ISO 639-1 code
	// ("hi"). Empty means auto-detect.
	Language string

	// Prompt optionally steers the model, e.g. toward domain vocabulary or a
	// desired output language.
	Prompt string
}

// Result is the transcript of one audio file.
type Result struct {
	// Text is the transcribed (or translated) speech content.
	Text string

	// Language is the detected spoken language when the provider reports it.
	// May be empty.
	Language string
}
