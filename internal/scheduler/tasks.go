package scheduler

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const TaskLeadWelcome = "leads.welcome"

const TaskLeadSweep = "leads.sweep"

var errMissingPhone = errors.New("welcome task without phone")

type WelcomePayload struct {
	Phone string `json:"phone"`
}

func NewWelcomeTask(payload WelcomePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.Phone) == "" {
		return nil, errMissingPhone
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadWelcome, data), nil
}

func ParseWelcomePayload(task *asynq.Task) (WelcomePayload, error) {
	var payload WelcomePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return WelcomePayload{}, err
	}
	if strings.TrimSpace(payload.Phone) == "" {
		return WelcomePayload{}, errMissingPhone
	}
	return payload, nil
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TaskLeadSweep, nil)
}

// welcomeTaskID keeps one pending welcome task per phone.
func welcomeTaskID(phone string) string {
	return "welcome:" + phone
}
