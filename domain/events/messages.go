package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
)

// Topic names a pipeline event stream.
type Topic string

const (
	TopicSubmitted       Topic = "yt.submit"
	TopicChannelResolved Topic = "yt.channel.resolved"
	TopicChannelFailed   Topic = "yt.channel.failed"
	TopicVideosFetched   Topic = "yt.videos.fetched"
	TopicVideosFailed    Topic = "yt.videos.failed"
	TopicTitlesGenerated Topic = "yt.titles.generated"
	TopicTitlesFailed    Topic = "yt.titles.failed"
	TopicEmailSent       Topic = "yt.email.sent"
	TopicFailureNotified Topic = "yt.error.notified"
)

// failureTopics maps each escalating stage to its failure topic.
var failureTopics = map[jobstore.Stage]Topic{
	jobstore.StageResolve:  TopicChannelFailed,
	jobstore.StageFetch:    TopicVideosFailed,
	jobstore.StageGenerate: TopicTitlesFailed,
}

// FailureTopics returns every topic a StageFailed message can be published on.
func FailureTopics() []Topic {
	return []Topic{TopicChannelFailed, TopicVideosFailed, TopicTitlesFailed}
}

// Message is one of the typed pipeline events below.
type Message interface {
	Topic() Topic
	// Key is the job id; deliveries for one (topic, key) never overlap.
	Key() string
	Validate() error
	message()
}

// Submitted starts a job.
type Submitted struct {
	JobID           string `json:"jobId"`
	RawChannelInput string `json:"rawChannelInput"`
	Email           string `json:"email"`
}

func (Submitted) Topic() Topic { return TopicSubmitted }
func (m Submitted) Key() string { return m.JobID }
func (Submitted) message() {}
func (m Submitted) Validate() error {
	return firstMissing("jobId", m.JobID, "rawChannelInput", strings.TrimSpace(m.RawChannelInput), "email", m.Email)
}

// ChannelResolved carries the resolved channel to the fetch stage.
type ChannelResolved struct {
	JobID       string `json:"jobId"`
	Email       string `json:"email"`
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
}

func (ChannelResolved) Topic() Topic { return TopicChannelResolved }
func (m ChannelResolved) Key() string { return m.JobID }
func (ChannelResolved) message() {}
func (m ChannelResolved) Validate() error {
	return firstMissing("jobId", m.JobID, "email", m.Email, "channelId", m.ChannelID)
}

// VideosFetched carries the recent videos to the generate stage.
type VideosFetched struct {
	JobID       string              `json:"jobId"`
	ChannelName string              `json:"channelName"`
	Email       string              `json:"email"`
	Videos      []jobstore.VideoRef `json:"videos"`
}

func (VideosFetched) Topic() Topic { return TopicVideosFetched }
func (m VideosFetched) Key() string { return m.JobID }
func (VideosFetched) message() {}
func (m VideosFetched) Validate() error {
	if err := firstMissing("jobId", m.JobID, "email", m.Email); err != nil {
		return err
	}
	if len(m.Videos) == 0 || len(m.Videos) > jobstore.MaxVideos {
		return apperror.NewBadRequest(fmt.Sprintf("videos must hold 1-%d items, got %d", jobstore.MaxVideos, len(m.Videos)))
	}
	return nil
}

// TitlesGenerated carries the improved titles to the email stage.
type TitlesGenerated struct {
	JobID          string                      `json:"jobId"`
	ChannelName    string                      `json:"channelName"`
	Email          string                      `json:"email"`
	ImprovedTitles []jobstore.TitleImprovement `json:"improvedTitles"`
}

func (TitlesGenerated) Topic() Topic { return TopicTitlesGenerated }
func (m TitlesGenerated) Key() string { return m.JobID }
func (TitlesGenerated) message() {}
func (m TitlesGenerated) Validate() error {
	if err := firstMissing("jobId", m.JobID, "email", m.Email); err != nil {
		return err
	}
	if len(m.ImprovedTitles) == 0 {
		return apperror.NewBadRequest("improvedTitles is empty")
	}
	return nil
}

// EmailSent reports a delivered results email.
type EmailSent struct {
	JobID   string `json:"jobId"`
	Email   string `json:"email"`
	EmailID string `json:"emailId"`
}

func (EmailSent) Topic() Topic { return TopicEmailSent }
func (m EmailSent) Key() string { return m.JobID }
func (EmailSent) message() {}
func (m EmailSent) Validate() error {
	return firstMissing("jobId", m.JobID, "email", m.Email)
}

// StageFailed reports a stage failure that must reach the user.
// Build it with NewStageFailed so the topic always matches the stage.
type StageFailed struct {
	JobID string         `json:"jobId"`
	Email string         `json:"email"`
	Error string         `json:"error"`
	Stage jobstore.Stage `json:"stage"`
}

// NewStageFailed builds the failure event for stage. Only the resolve, fetch
// and generate stages escalate.
func NewStageFailed(stage jobstore.Stage, jobID, email, reason string) (StageFailed, error) {
	m := StageFailed{JobID: jobID, Email: email, Error: reason, Stage: stage}
	if err := m.Validate(); err != nil {
		return StageFailed{}, err
	}
	return m, nil
}

func (m StageFailed) Topic() Topic { return failureTopics[m.Stage] }
func (m StageFailed) Key() string { return m.JobID }
func (StageFailed) message() {}
func (m StageFailed) Validate() error {
	if _, ok := failureTopics[m.Stage]; !ok {
		return apperror.NewBadRequest(fmt.Sprintf("stage %q does not escalate failures", m.Stage))
	}
	return firstMissing("jobId", m.JobID, "email", m.Email, "error", m.Error)
}

// FailureNotified reports the outcome of a failure notification.
type FailureNotified struct {
	JobID   string `json:"jobId"`
	EmailID string `json:"emailId,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (FailureNotified) Topic() Topic { return TopicFailureNotified }
func (m FailureNotified) Key() string { return m.JobID }
func (FailureNotified) message() {}
func (m FailureNotified) Validate() error {
	return firstMissing("jobId", m.JobID)
}

func firstMissing(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return apperror.NewBadRequest(pairs[i] + " is required")
		}
	}
	return nil
}

// Encode validates msg and returns its JSON payload.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", msg.Topic(), err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Topic(), err)
	}
	return payload, nil
}

// Decode parses payload into the typed message for topic and validates it.
func Decode(topic Topic, payload []byte) (Message, error) {
	var (
		msg Message
		err error
	)
	switch topic {
	case TopicSubmitted:
		msg, err = decode[Submitted](payload)
	case TopicChannelResolved:
		msg, err = decode[ChannelResolved](payload)
	case TopicVideosFetched:
		msg, err = decode[VideosFetched](payload)
	case TopicTitlesGenerated:
		msg, err = decode[TitlesGenerated](payload)
	case TopicEmailSent:
		msg, err = decode[EmailSent](payload)
	case TopicChannelFailed, TopicVideosFailed, TopicTitlesFailed:
		msg, err = decode[StageFailed](payload)
	case TopicFailureNotified:
		msg, err = decode[FailureNotified](payload)
	default:
		return nil, apperror.NewParse(fmt.Sprintf("unknown topic %q", topic), nil)
	}
	if err != nil {
		return nil, apperror.NewParse(fmt.Sprintf("malformed %s payload", topic), err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", topic, err)
	}
	if msg.Topic() != topic {
		return nil, apperror.NewParse(fmt.Sprintf("payload for %s decoded as %s", topic, msg.Topic()), nil)
	}
	return msg, nil
}

func decode[T Message](payload []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
