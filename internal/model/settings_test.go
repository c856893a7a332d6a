package model_test

import (
	"testing"

	"github.com/JulianFP/project-W-runner/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseJobSettings(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		ok       bool
	}{
		{"defaults", `{}`, true},
		{"full", `{"task":"transcribe","model":"turbo","language":"de","alignment":{"return_char_alignments":false},"diarization":{"min_speakers":1}}`, true},
		{"english model with english", `{"model":"base.en","language":"en"}`, true},
		{"english model without language", `{"model":"base.en"}`, false},
		{"translate with alignment", `{"task":"translate","language":"de","alignment":{}}`, false},
		{"translate without alignment", `{"task":"translate","language":"de","alignment":null}`, true},
		{"translate english", `{"task":"translate","language":"en","alignment":null}`, false},
		{"translate with default alignment", `{"task":"translate","language":"de"}`, false},
		{"alignment unsupported language", `{"language":"sw","alignment":{}}`, false},
		{"default alignment unsupported language", `{"language":"sw"}`, false},
		{"no alignment unsupported language", `{"language":"sw","alignment":null}`, true},
		{"alignment with detected language", `{"alignment":{}}`, true},
		{"unknown task", `{"task":"summarize"}`, false},
		{"not json", `nope`, false},
		{"empty", ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.ParseJobSettings(model.JobSettings(tc.given))
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, model.ErrInvalidJobSettings)
		})
	}
}
