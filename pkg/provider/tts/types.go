package tts

// Request describes one synthesis job.
type Request struct {
	// Text is the content to speak. Must not be empty.
	Text string

	// Voice selects the provider-specific voice. Empty uses the provider's
	// default voice.
	Voice string

	// Model optionally overrides the provider's default synthesis model.
	Model string

	// Format is the requested container/codec ("mp3", "wav", "ogg").
	// Providers fall back to their default when empty or unsupported.
	Format string
}

// Result is one synthesized audio file.
type Result struct {
	// Audio is the encoded file content.
	Audio []byte

	// Format is the container/codec actually produced ("mp3").
	Format string
}
