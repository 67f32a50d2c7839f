package queue

import (
	"encoding/json"

	"lead-qualifier/internal/leads"

	"github.com/hibiken/asynq"
)

const TaskProcessLead = "lead.process"

const TaskFinalizeCall = "lead.finalize"

const TaskFollowupSMS = "lead.followup_sms"

type ProcessLeadPayload struct {
	Lead leads.Lead `json:"lead"`
}

type FinalizeCallPayload struct {
	CallID string `json:"callId"`
	// Deadline marks the scheduled close-out that runs even when the
	// provider never reported a terminal status.
	Deadline bool `json:"deadline,omitempty"`
}

type FollowupSMSPayload struct {
	LeadKey string       `json:"leadKey"`
	CallID  string       `json:"callId,omitempty"`
	Name    string       `json:"name"`
	Phone   string       `json:"phone"`
	Status  leads.Status `json:"status"`
}

func NewProcessLeadTask(payload ProcessLeadPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessLead, data), nil
}

func ParseProcessLeadPayload(task *asynq.Task) (ProcessLeadPayload, error) {
	var payload ProcessLeadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessLeadPayload{}, err
	}
	return payload, nil
}

func NewFinalizeCallTask(payload FinalizeCallPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFinalizeCall, data), nil
}

func ParseFinalizeCallPayload(task *asynq.Task) (FinalizeCallPayload, error) {
	var payload FinalizeCallPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FinalizeCallPayload{}, err
	}
	return payload, nil
}

func NewFollowupSMSTask(payload FollowupSMSPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowupSMS, data), nil
}

func ParseFollowupSMSPayload(task *asynq.Task) (FollowupSMSPayload, error) {
	var payload FollowupSMSPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FollowupSMSPayload{}, err
	}
	return payload, nil
}
