package chatcontext

import (
	"time"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
	"github.com/capitalize-ai/bill-assistant/internal/model"
)

// mutation transforms a window. Returning a nil window means nothing to write.
type mutation func(w *model.Window) (*model.Window, error)

func appendUserMutation(text string, maxRounds int, now time.Time) mutation {
	return func(w *model.Window) (*model.Window, error) {
		if w == nil {
			w = &model.Window{}
		}
		w.Rounds = append(w.Rounds, model.Round{User: text})
		if over := len(w.Rounds) - maxRounds; over > 0 {
			w.Rounds = append([]model.Round(nil), w.Rounds[over:]...)
		}
		w.UpdatedAt = now
		return w, nil
	}
}

func appendAssistantMutation(text string, now time.Time) mutation {
	return func(w *model.Window) (*model.Window, error) {
		if w == nil {
			return nil, apperr.Statef("chatcontext.AppendAssistant", "no conversation window")
		}
		i := w.LastOpen()
		if i < 0 {
			return nil, apperr.Statef("chatcontext.AppendAssistant", "no open round")
		}
		reply := text
		w.Rounds[i].Assistant = &reply
		w.UpdatedAt = now
		return w, nil
	}
}

func flatten(w *model.Window, maxRounds int) []model.Turn {
	if w == nil || maxRounds <= 0 {
		return []model.Turn{}
	}
	rounds := w.Rounds
	if len(rounds) > maxRounds {
		rounds = rounds[len(rounds)-maxRounds:]
	}
	turns := make([]model.Turn, 0, 2*len(rounds))
	for _, r := range rounds {
		turns = append(turns, model.Turn{Role: model.RoleUser, Text: r.User})
		if r.Assistant != nil {
			turns = append(turns, model.Turn{Role: model.RoleAssistant, Text: *r.Assistant})
		}
	}
	return turns
}

func cloneWindow(w *model.Window) *model.Window {
	if w == nil {
		return nil
	}
	c := &model.Window{UpdatedAt: w.UpdatedAt, Rounds: make([]model.Round, len(w.Rounds))}
	copy(c.Rounds, w.Rounds)
	return c
}
