package session

import (
	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/model"
)

// allowedTransitions is the session state machine. Terminal states have no
// outgoing edges except Failed, which a retry returns to Queued.
var allowedTransitions = map[model.SessionStatus][]model.SessionStatus{
	model.StatusQueued:      {model.StatusDownloading, model.StatusPaused, model.StatusCancelled},
	model.StatusDownloading: {model.StatusVerifying, model.StatusPaused, model.StatusFailed, model.StatusCancelled},
	model.StatusPaused:      {model.StatusQueued, model.StatusCancelled},
	model.StatusVerifying:   {model.StatusInstalling, model.StatusPaused, model.StatusFailed, model.StatusCancelled},
	model.StatusInstalling:  {model.StatusCompleted, model.StatusFailed, model.StatusCancelled},
	model.StatusFailed:      {model.StatusQueued},
}

func canTransition(from, to model.SessionStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to model.SessionStatus) error {
	if !canTransition(from, to) {
		return pkgerrors.Wrapf(pkgerrors.ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}
