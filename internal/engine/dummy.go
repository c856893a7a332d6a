package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/JulianFP/project-W-runner/internal/model"
)

const (
	DefaultStepDelay = time.Second
	dummySteps       = 3
)

// Dummy pretends to transcribe. It checks its inputs like a real engine
// would, reports progress in steps and returns a fixed transcript. It is used
// in CI and for smoke testing a backend.
type Dummy struct {
	StepDelay time.Duration
}

func (d Dummy) Transcribe(ctx context.Context, audioPath string, settings model.JobSettings, progress model.ProgressFunc) (*model.Transcript, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, &Error{Stage: "prepare", Err: err}
	}
	if info.Size() == 0 {
		return nil, &Error{Stage: "prepare", Err: errors.New("the provided audio file is empty")}
	}
	if _, err := model.ParseJobSettings(settings); err != nil {
		return nil, &Error{Stage: "settings", Err: err}
	}

	step := 100.0 / dummySteps
	for i := range dummySteps {
		if err := progress(step * float64(i)); err != nil {
			return nil, fmt.Errorf("dummy transcription: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.StepDelay):
		}
	}
	if err := progress(100); err != nil {
		return nil, fmt.Errorf("dummy transcription: %w", err)
	}
	return dummyTranscript(), nil
}

func dummyTranscript() *model.Transcript {
	var asJSON map[string]any
	if err := json.Unmarshal([]byte(dummyJSON), &asJSON); err != nil {
		panic(err)
	}
	return &model.Transcript{
		AsTXT:  dummyTXT,
		AsSRT:  dummySRT,
		AsTSV:  dummyTSV,
		AsVTT:  dummyVTT,
		AsJSON: asJSON,
	}
}

const dummyTXT = `Space, the final frontier.
These are the voyages of the starship Enterprise.
Its five-year mission, to explore strange new worlds, to seek out new life and new civilizations, to boldly go where no man has gone before.`

const dummySRT = `1
00:00:06,089 --> 00:00:14,663
Space, the final frontier.

2
00:00:14,683 --> 00:00:17,588
These are the voyages of the starship Enterprise.

3
00:00:18,910 --> 00:00:29,447
Its five-year mission, to explore strange new worlds, to seek out new life and new civilizations, to boldly go where no man has gone before.`

const dummyTSV = "start\tend\ttext\n" +
	"6089\t14663\tSpace, the final frontier.\n" +
	"14683\t17588\tThese are the voyages of the starship Enterprise.\n" +
	"18910\t29447\tIts five-year mission, to explore strange new worlds, to seek out new life and new civilizations, to boldly go where no man has gone before."

const dummyVTT = `WEBVTT

00:06.089 --> 00:14.663
Space, the final frontier.

00:14.683 --> 00:17.588
These are the voyages of the starship Enterprise.

00:18.910 --> 00:29.447
Its five-year mission, to explore strange new worlds, to seek out new life and new civilizations, to boldly go where no man has gone before.`

const dummyJSON = `{"language":"en","segments":[` +
	`{"start":6.089,"end":14.663,"text":" Space, the final frontier."},` +
	`{"start":14.683,"end":17.588,"text":"These are the voyages of the starship Enterprise."},` +
	`{"start":18.91,"end":29.447,"text":"Its five-year mission, to explore strange new worlds, to seek out new life and new civilizations, to boldly go where no man has gone before."}]}`
