package envelope

import (
	"encoding/json"
	"strings"
)

// MediaItem is a single inbound media attachment as reported by the channel.
type MediaItem struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// IsAudio reports whether the attachment is an audio item.
func (m MediaItem) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(m.ContentType), "audio/")
}

// MediaMetadata is the inbound metadata contract published by ingresses.
type MediaMetadata struct {
	NumMedia int         `json:"num_media"`
	Media    []MediaItem `json:"media"`
}

// BuildMediaMetadata encodes media items into the metadata JSON blob.
// Items missing a URL or content type are skipped.
func BuildMediaMetadata(items []MediaItem) (string, error) {
	kept := make([]MediaItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.URL) == "" || strings.TrimSpace(item.ContentType) == "" {
			continue
		}
		kept = append(kept, item)
	}
	raw, err := json.Marshal(MediaMetadata{NumMedia: len(kept), Media: kept})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseMediaMetadata decodes a metadata JSON blob. Blank or malformed input
// yields an empty MediaMetadata, never an error.
func ParseMediaMetadata(metadata string) MediaMetadata {
	if strings.TrimSpace(metadata) == "" {
		return MediaMetadata{}
	}
	var parsed MediaMetadata
	if err := json.Unmarshal([]byte(metadata), &parsed); err != nil {
		return MediaMetadata{}
	}
	return parsed
}

// PickFirstAudio returns the first audio attachment in the metadata blob,
// or false when none is present.
func PickFirstAudio(metadata string) (MediaItem, bool) {
	parsed := ParseMediaMetadata(metadata)
	for _, item := range parsed.Media {
		if strings.TrimSpace(item.URL) == "" || strings.TrimSpace(item.ContentType) == "" {
			continue
		}
		if item.IsAudio() {
			return item, true
		}
	}
	return MediaItem{}, false
}

// GuessMIMEFromAudioFormat maps a TTS output format to the MIME type Twilio
// expects on media messages.
func GuessMIMEFromAudioFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	case "m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
