package relay

import (
	"encoding/json"
	"fmt"
)

// Event types the relay intercepts; everything else passes through verbatim.
const (
	// Client -> upstream: the user's speech finished transcribing.
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	// Client -> upstream: the model finished a response.
	EventResponseDone = "response.done"
	// Upstream -> client: terminal transcript of the model's own voice.
	EventAudioTranscriptDone = "response.audio_transcript.done"
)

// clientEvent is the minimal view the relay needs of an inbound message;
// the raw payload is what actually gets forwarded.
type clientEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

func parseClientEvent(data []byte) (*clientEvent, error) {
	var event clientEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse client event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("client event missing type")
	}
	return &event, nil
}

func newErrorEvent(message string) []byte {
	event := struct {
		Type  string `json:"type"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}{Type: "error"}
	event.Error.Message = message

	data, _ := json.Marshal(event)
	return data
}

// newTextDeltaEvent synthesizes a client-facing delta carrying the resource
// link; the upstream never sees it.
func newTextDeltaEvent(delta string) []byte {
	event := struct {
		Type  string `json:"type"`
		Delta string `json:"delta"`
	}{Type: "response.text.delta", Delta: delta}

	data, _ := json.Marshal(event)
	return data
}
