package model

import (
	"encoding/json"
	"fmt"
	"slices"
)

const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// englishOnlyModels only work with language "en".
var englishOnlyModels = []string{"tiny.en", "base.en", "small.en", "medium.en"}

var alignmentLanguages = []string{
	"en", "fr", "de", "es", "it", "ja", "zh", "nl", "uk", "pt", "ar", "cs", "ru",
	"pl", "hu", "fi", "fa", "el", "tr", "da", "he", "vi", "ko", "ur", "te", "hi",
	"ca", "ml", "no", "nn", "sk", "sl", "hr", "ro", "eu", "gl", "ka", "lv", "tl",
}

// JobSettingsView is the part of JobSettings the runner looks at. Engines get
// the raw settings.
type JobSettingsView struct {
	Task        string           `json:"task"`
	Model       string           `json:"model"`
	Language    *string          `json:"language"`  // nil means automatic detection
	Alignment   json.RawMessage  `json:"alignment"` // absent means default alignment, null disables it
	Diarization *json.RawMessage `json:"diarization"`
}

// ParseJobSettings decodes and sanity checks settings. Missing task and model
// default to the values the backend uses.
func ParseJobSettings(raw JobSettings) (JobSettingsView, error) {
	view := JobSettingsView{Task: TaskTranscribe, Model: "large"}
	if len(raw) == 0 {
		return view, fmt.Errorf("%w: empty", ErrInvalidJobSettings)
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		return view, fmt.Errorf("%w: %w", ErrInvalidJobSettings, err)
	}
	return view, view.Validate()
}

func (v JobSettingsView) Validate() error {
	lang := ""
	if v.Language != nil {
		lang = *v.Language
	}
	aligned := string(v.Alignment) != "null"

	switch {
	case v.Task != TaskTranscribe && v.Task != TaskTranslate:
		return fmt.Errorf("%w: unknown task %q", ErrInvalidJobSettings, v.Task)
	case slices.Contains(englishOnlyModels, v.Model) && lang != "en":
		return fmt.Errorf("%w: model %s requires language en", ErrInvalidJobSettings, v.Model)
	case v.Task == TaskTranslate && aligned:
		return fmt.Errorf("%w: alignment not supported for the translation task", ErrInvalidJobSettings)
	case v.Task == TaskTranslate && lang == "en":
		return fmt.Errorf("%w: cannot translate English into English", ErrInvalidJobSettings)
	case aligned && lang != "" && !slices.Contains(alignmentLanguages, lang):
		return fmt.Errorf("%w: language %s is not supported for alignment", ErrInvalidJobSettings, lang)
	}
	return nil
}
