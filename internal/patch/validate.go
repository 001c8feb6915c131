package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fentz26/tasksync/internal/models"
)

var projectNameRe = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("projectname", func(fl validator.FieldLevel) bool {
		return projectNameRe.MatchString(fl.Field().String())
	})
}

// ValidProjectName reports whether name is usable as a project (and room) name.
func ValidProjectName(name string) bool {
	return projectNameRe.MatchString(name)
}

// Validate checks a patch received from the network before it is applied.
// Values inside an otherwise well-formed patch are not checked here; malformed
// values fall back to defaults when the patch is applied.
func Validate(p Patch) error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", e.Field(), e.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidPatch, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	switch p.Op {
	case OpUpdate:
		if p.TaskID == 0 || p.Field == "" {
			return fmt.Errorf("%w: update needs taskId and field", ErrInvalidPatch)
		}
		if _, err := (&models.Task{}).Value(p.Field); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
	case OpAddTask:
		if p.Task == nil || p.Task.ID <= 0 {
			return fmt.Errorf("%w: addTask needs a task with an id", ErrInvalidPatch)
		}
	case OpAddSubtask:
		if p.ParentTaskID == 0 || p.Subtask == nil || p.Subtask.ID <= 0 {
			return fmt.Errorf("%w: addSubtask needs parentTaskId and a subtask with an id", ErrInvalidPatch)
		}
	case OpDeleteTask, OpDeleteSubtask:
		if p.TaskID == 0 {
			return fmt.Errorf("%w: %s needs taskId", ErrInvalidPatch, p.Op)
		}
	case OpUpdateCell:
		if _, _, err := ParseCellKey(p.Key); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
		}
	case OpReorderSubtask:
		if p.TaskID == 0 || p.Direction == "" {
			return fmt.Errorf("%w: reorderSubtask needs taskId and direction", ErrInvalidPatch)
		}
	}
	return nil
}
