package runs

import (
	"strings"

	"github.com/eval-hub/model-arena/pkg/api"
)

// FoldStates derives the participant states and the progress of a run from its events.
// The event log is the only record of what happened, nothing else is shared between
// the execution tasks.
func FoldStates(participants []string, repetitions int, events []api.Event) ([]api.ParticipantState, api.Progress) {
	states := make([]api.ParticipantState, len(participants))
	index := make(map[string]int, len(participants))
	texts := make([][]strings.Builder, len(participants))
	for i, id := range participants {
		index[id] = i
		reps := make([]api.RepetitionState, repetitions)
		for r := range reps {
			reps[r] = api.RepetitionState{Index: r, Status: api.ParticipantStatusPending}
		}
		states[i] = api.ParticipantState{
			ParticipantID:    id,
			Status:           api.ParticipantStatusPending,
			TotalRepetitions: repetitions,
			Repetitions:      reps,
		}
		texts[i] = make([]strings.Builder, repetitions)
	}
	progress := api.Progress{Total: len(participants) * repetitions}

	repetition := func(e api.Event) (int, *api.RepetitionState) {
		i, ok := index[e.ParticipantID()]
		if !ok {
			return -1, nil
		}
		r, ok := e.RepetitionIndex()
		if !ok || r < 0 || r >= repetitions {
			return -1, nil
		}
		return i, &states[i].Repetitions[r]
	}

	for _, e := range events {
		switch p := e.Payload.(type) {
		case api.ModelRunStarted:
			if i, ok := index[p.ParticipantID]; ok && states[i].Status == api.ParticipantStatusPending {
				states[i].Status = api.ParticipantStatusRunning
			}
		case api.NarrationDelta:
			i, rep := repetition(e)
			if rep == nil {
				continue
			}
			texts[i][rep.Index].WriteString(p.ContentDelta)
			if rep.Status == api.ParticipantStatusPending {
				rep.Status = api.ParticipantStatusRunning
			}
		case api.ModelRunCompleted:
			i, rep := repetition(e)
			if rep == nil || rep.Status == api.ParticipantStatusCompleted || rep.Status == api.ParticipantStatusErrored {
				continue
			}
			rep.Status = api.ParticipantStatusCompleted
			rep.LatencyMS = p.LatencyMS
			rep.TokensIn = p.TokensIn
			rep.TokensOut = p.TokensOut
			finish(&states[i], &progress, true)
		case api.ModelRunError:
			i, rep := repetition(e)
			if rep == nil || rep.Status == api.ParticipantStatusCompleted || rep.Status == api.ParticipantStatusErrored {
				continue
			}
			kind := p.ErrorKind
			rep.Status = api.ParticipantStatusErrored
			rep.LatencyMS = p.LatencyMS
			rep.ErrorKind = &kind
			rep.Error = p.Message
			finish(&states[i], &progress, false)
		case api.RunStarted, api.RunCompleted, api.RunCancelled:
		}
	}

	for i := range states {
		for r := range states[i].Repetitions {
			states[i].Repetitions[r].Text = texts[i][r].String()
		}
	}
	return states, progress
}

// finish records a terminal repetition. Once every repetition is terminal the participant
// is completed when all of them succeeded, errored otherwise.
func finish(state *api.ParticipantState, progress *api.Progress, succeeded bool) {
	state.CompletedRepetitions++
	progress.Finished++
	if succeeded {
		progress.Succeeded++
	} else {
		progress.Failed++
	}
	if state.Status == api.ParticipantStatusPending {
		state.Status = api.ParticipantStatusRunning
	}
	if state.CompletedRepetitions < state.TotalRepetitions {
		return
	}
	state.Status = api.ParticipantStatusCompleted
	for _, rep := range state.Repetitions {
		if !rep.Succeeded() {
			state.Status = api.ParticipantStatusErrored
			return
		}
	}
}
