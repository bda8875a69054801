package engine

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Reference selects the voice for a request: either a preset voice id or an
// inline audio sample plus its transcript for cloning, never both. A
// reference lives only as long as its request.
type Reference struct {
	Voice      string
	Audio      []byte
	Transcript string

	// Filled in from the decoded audio for cloning references.
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// PresetVoice references a voice built into the model.
func PresetVoice(id string) *Reference {
	return &Reference{Voice: id}
}

// CloneVoice builds a cloning reference from WAV bytes and the transcript of
// what is spoken in them. The audio is decoded up front so malformed uploads
// fail at submission time rather than inside the worker.
func CloneVoice(audio []byte, transcript string) (*Reference, error) {
	if len(audio) == 0 {
		return nil, &InvalidParamsError{Reason: "reference audio must not be empty"}
	}
	if transcript == "" {
		return nil, &InvalidParamsError{Reason: "reference transcript must not be empty"}
	}

	dec := wav.NewDecoder(bytes.NewReader(audio))
	if !dec.IsValidFile() {
		return nil, &InvalidParamsError{Reason: "reference audio is not a valid WAV file"}
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &InvalidParamsError{Reason: fmt.Sprintf("decode reference audio: %v", err)}
	}
	if buf.NumFrames() == 0 {
		return nil, &InvalidParamsError{Reason: "reference audio contains no samples"}
	}
	if !pcmHasSignal(buf) {
		return nil, &InvalidParamsError{Reason: "reference audio is silent"}
	}

	ref := &Reference{
		Audio:      audio,
		Transcript: transcript,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}
	if dur, err := dec.Duration(); err == nil {
		ref.Duration = dur
	}
	return ref, nil
}

// Cloning reports whether the reference carries inline audio.
func (r *Reference) Cloning() bool {
	return r != nil && len(r.Audio) > 0
}

func pcmHasSignal(buf *audio.IntBuffer) bool {
	for _, s := range buf.Data {
		if s != 0 {
			return true
		}
	}
	return false
}
