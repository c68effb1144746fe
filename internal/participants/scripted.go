package participants

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/pkg/api"
)

// Scripted replays a fixed narration. It never calls a provider, it is used in local
// mode and in tests.
type Scripted struct {
	descriptor api.ParticipantResource
	script     api.ParticipantScript
	wait       time.Duration
}

func NewScripted(descriptor api.ParticipantResource) (*Scripted, error) {
	script := api.ParticipantScript{}
	if descriptor.Script != nil {
		script = *descriptor.Script
	}
	if script.FailAfter < 0 {
		return nil, fmt.Errorf("participant %s: fail_after must not be negative", descriptor.ID)
	}
	var wait time.Duration
	if script.FragmentWait != "" {
		d, err := time.ParseDuration(script.FragmentWait)
		if err != nil {
			return nil, fmt.Errorf("participant %s: invalid fragment_wait: %w", descriptor.ID, err)
		}
		wait = d
	}
	if script.FailMessage == "" {
		script.FailMessage = "scripted failure"
	}
	return &Scripted{descriptor: descriptor, script: script, wait: wait}, nil
}

func (s *Scripted) ID() string {
	return s.descriptor.ID
}

func (s *Scripted) Descriptor() api.ParticipantResource {
	return s.descriptor
}

func (s *Scripted) Invoke(ctx context.Context, prompt api.Prompt, _ map[string]any) iter.Seq2[abstractions.Fragment, error] {
	return func(yield func(abstractions.Fragment, error) bool) {
		if s.script.Fail {
			yield(abstractions.Fragment{}, errors.New(s.script.FailMessage))
			return
		}
		fragments := s.script.Fragments
		if len(fragments) == 0 {
			fragments = []string{prompt.User}
		}

		var timer *time.Timer
		if s.wait > 0 {
			timer = time.NewTimer(s.wait)
			defer timer.Stop()
		}
		completion := 0
		for i, text := range fragments {
			if s.script.FailAfter > 0 && i >= s.script.FailAfter {
				yield(abstractions.Fragment{}, errors.New(s.script.FailMessage))
				return
			}
			if timer != nil {
				timer.Reset(s.wait)
				select {
				case <-ctx.Done():
					yield(abstractions.Fragment{}, ctx.Err())
					return
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				yield(abstractions.Fragment{}, err)
				return
			}
			if !yield(abstractions.Fragment{Text: text}, nil) {
				return
			}
			completion += countTokens(text)
		}

		promptTokens := s.script.PromptTokens
		if promptTokens == 0 {
			promptTokens = countTokens(prompt.System, prompt.User)
		}
		yield(abstractions.Fragment{Usage: &abstractions.Usage{PromptTokens: promptTokens, CompletionTokens: completion}}, nil)
	}
}
