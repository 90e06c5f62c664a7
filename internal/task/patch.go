package task

import (
	"strings"
	"time"

	"taskshare/internal/model"
)

// Patch is a partial update. A field left unset keeps the stored value; a
// field set to an empty or null value overwrites it.
type Patch struct {
	Title       model.Optional[string]     `json:"title"`
	Description model.Optional[string]     `json:"description"`
	Status      model.Optional[string]     `json:"status"`
	Priority    model.Optional[string]     `json:"priority"`
	Tags        model.Optional[[]string]   `json:"tags"`
	Category    model.Optional[string]     `json:"category"`
	Metadata    model.Optional[string]     `json:"metadata"`
	DueDate     model.Optional[*time.Time] `json:"dueDate"`
	Completed   model.Optional[bool]       `json:"completed"`
}

// ApplyPatch validates every present field first and only then builds the
// new state, so an invalid patch changes nothing. Version and timestamps are
// left to the caller.
func ApplyPatch(t model.Task, p Patch) (model.Task, error) {
	var verr ValidationError

	var title string
	if p.Title.Set {
		title = strings.TrimSpace(p.Title.Value)
		if title == "" {
			verr.add("title", "must not be blank")
		}
	}

	var status model.Status
	if p.Status.Set {
		var ok bool
		if status, ok = model.ParseStatus(p.Status.Value); !ok {
			verr.add("status", "must be one of todo, in_progress, done")
		}
	}

	var priority model.Priority
	if p.Priority.Set {
		var ok bool
		if priority, ok = model.ParsePriority(p.Priority.Value); !ok {
			verr.add("priority", "must be one of low, med, high")
		}
	}

	if p.Completed.Set && p.Status.Set && status != "" && (status == model.StatusDone) != p.Completed.Value {
		verr.add("completed", "conflicts with status")
	}

	if err := verr.errOrNil(); err != nil {
		return model.Task{}, err
	}

	next := t.Clone()
	if p.Title.Set {
		next.Title = title
	}
	if p.Description.Set {
		next.Description = p.Description.Value
	}
	if p.Status.Set {
		next.Status = status
	}
	if p.Completed.Set && !p.Status.Set {
		switch {
		case p.Completed.Value:
			next.Status = model.StatusDone
		case next.Status == model.StatusDone:
			next.Status = model.StatusTodo
		}
	}
	if p.Priority.Set {
		next.Priority = priority
	}
	if p.Tags.Set {
		next.Tags = append([]string{}, p.Tags.Value...)
	}
	if p.Category.Set {
		next.Category = p.Category.Value
	}
	if p.Metadata.Set {
		next.Metadata = p.Metadata.Value
	}
	if p.DueDate.Set {
		next.DueDate = nil
		if p.DueDate.Value != nil {
			d := p.DueDate.Value.UTC()
			next.DueDate = &d
		}
	}
	return next, nil
}
