package live

import (
	"strconv"
	"strings"

	"github.com/lexiqai/live-translator/internal/audio"
)

// Client to server messages

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         generationConfig  `json:"generationConfig"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *transcriptionCfg `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptionCfg `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type transcriptionCfg struct{}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []audio.Blob `json:"mediaChunks"`
}

// Server to client messages

// ServerMessage is one inbound frame. Fields are independent and any may be absent.
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// ServerContent carries model output, transcriptions and turn signals
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
}

// Content is a list of parts with an optional role
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is either text or inline binary data
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *audio.Blob `json:"inlineData,omitempty"`
}

// Transcription is an incremental text fragment
type Transcription struct {
	Text string `json:"text"`
}

// GoAway warns that the server will close the connection soon
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// UsageMetadata reports token accounting
type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

// AudioPayloads returns every inline audio part of the model turn in order
func (m *ServerMessage) AudioPayloads() []audio.Blob {
	if m == nil || m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return nil
	}
	var blobs []audio.Blob
	for _, p := range m.ServerContent.ModelTurn.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		if p.InlineData.MIMEType != "" && !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
			continue
		}
		blobs = append(blobs, *p.InlineData)
	}
	return blobs
}

// PayloadSampleRate reads the rate parameter of a PCM MIME type, defaulting to the playback rate
func PayloadSampleRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return audio.PlaybackSampleRate
}

func newSetupMessage(model, voice, instruction string) setupMessage {
	msg := setupMessage{Setup: setup{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &transcriptionCfg{},
		OutputAudioTranscription: &transcriptionCfg{},
	}}
	if voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	if instruction != "" {
		msg.Setup.SystemInstruction = &Content{Parts: []Part{{Text: instruction}}}
	}
	return msg
}
