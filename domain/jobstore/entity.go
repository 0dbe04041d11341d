package jobstore

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the position of a job in the pipeline state machine.
type Status string

const (
	StatusSubmitted        Status = "submitted"
	StatusResolving        Status = "resolving"
	StatusResolved         Status = "resolved"
	StatusVideosFetching   Status = "videos_fetching"
	StatusVideosFetched    Status = "videos_fetched"
	StatusTitlesGenerating Status = "titles_generating"
	StatusTitlesGenerated  Status = "titles_generated"
	StatusEmailSending     Status = "email_sending"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

var statusRank = map[Status]int{
	StatusSubmitted:        1,
	StatusResolving:        2,
	StatusResolved:         3,
	StatusVideosFetching:   4,
	StatusVideosFetched:    5,
	StatusTitlesGenerating: 6,
	StatusTitlesGenerated:  7,
	StatusEmailSending:     8,
	StatusCompleted:        9,
	StatusFailed:           9,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further stage transition may follow s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Before reports whether s is strictly behind next in the state machine.
func (s Status) Before(next Status) bool {
	return statusRank[s] < statusRank[next]
}

// Stage names the pipeline step that owns a transition.
type Stage string

const (
	StageSubmit   Stage = "submit"
	StageResolve  Stage = "resolve"
	StageFetch    Stage = "fetch"
	StageGenerate Stage = "generate"
	StageEmail    Stage = "email"
)

// escalatingStages are the stages whose failures are reported to the user
// through NotifyFailure.
var escalatingStages = []Stage{StageResolve, StageFetch, StageGenerate}

// Escalates reports whether a failure in s earns a failure notification.
func (s Stage) Escalates() bool {
	for _, e := range escalatingStages {
		if s == e {
			return true
		}
	}
	return false
}

// StageOf returns the stage responsible for moving a job out of status s.
// Terminal statuses have no owning stage.
func StageOf(s Status) (Stage, bool) {
	switch s {
	case StatusSubmitted, StatusResolving:
		return StageResolve, true
	case StatusResolved, StatusVideosFetching:
		return StageFetch, true
	case StatusVideosFetched, StatusTitlesGenerating:
		return StageGenerate, true
	case StatusTitlesGenerated, StatusEmailSending:
		return StageEmail, true
	}
	return "", false
}

// MaxVideos is the most recent videos tracked per job.
const MaxVideos = 5

// VideoRef is one recent video of the resolved channel.
type VideoRef struct {
	VideoID     string    `json:"videoId"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
}

// TitleImprovement pairs an original title with its suggested replacement.
// URL always comes from the VideoRef at the same index.
type TitleImprovement struct {
	Original  string `json:"original"`
	Improved  string `json:"improved"`
	Rationale string `json:"rationale"`
	URL       string `json:"url"`
}

// Notification records the failure-notification outcome for a job.
type Notification struct {
	ClaimedAt time.Time  `json:"claimedAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	EmailID   string     `json:"emailId,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// JobRecord is the durable state of one submission, keyed by JobID.
type JobRecord struct {
	bun.BaseModel `bun:"table:job_records,alias:jr"`

	JobID           string             `bun:"job_id,pk" json:"jobId"`
	RawChannelInput string             `bun:"raw_channel_input,notnull" json:"rawChannelInput"`
	Email           string             `bun:"email,notnull" json:"email"`
	Status          Status             `bun:"status,notnull" json:"status"`
	ChannelID       *string            `bun:"channel_id" json:"channelId,omitempty"`
	ChannelName     *string            `bun:"channel_name" json:"channelName,omitempty"`
	Videos          []VideoRef         `bun:"videos,type:jsonb,notnull" json:"videos"`
	ImprovedTitles  []TitleImprovement `bun:"improved_titles,type:jsonb,notnull" json:"improvedTitles"`
	Error           *string            `bun:"error" json:"error,omitempty"`
	FailedStage     *Stage             `bun:"failed_stage" json:"failedStage,omitempty"`
	EmailID         *string            `bun:"email_id" json:"emailId,omitempty"`
	Notification    *Notification      `bun:"notification,type:jsonb" json:"notification,omitempty"`
	Version         int64              `bun:"version,notnull" json:"-"`
	CreatedAt       time.Time          `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time          `bun:"updated_at,notnull" json:"updatedAt"`
	CompletedAt     *time.Time         `bun:"completed_at" json:"completedAt,omitempty"`
}

// NewJobRecord returns a Submitted record for a fresh intake.
func NewJobRecord(jobID, rawChannelInput, email string, now time.Time) *JobRecord {
	return &JobRecord{
		JobID:           jobID,
		RawChannelInput: rawChannelInput,
		Email:           email,
		Status:          StatusSubmitted,
		Videos:          []VideoRef{},
		ImprovedTitles:  []TitleImprovement{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy of r.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ChannelID = clonePtr(r.ChannelID)
	c.ChannelName = clonePtr(r.ChannelName)
	c.Error = clonePtr(r.Error)
	c.FailedStage = clonePtr(r.FailedStage)
	c.EmailID = clonePtr(r.EmailID)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.Videos = append([]VideoRef{}, r.Videos...)
	c.ImprovedTitles = append([]TitleImprovement{}, r.ImprovedTitles...)
	if r.Notification != nil {
		n := *r.Notification
		n.SentAt = clonePtr(r.Notification.SentAt)
		c.Notification = &n
	}
	return &c
}

// normalize fills empty collections so the jsonb columns never hold null.
func (r *JobRecord) normalize() {
	if r.Videos == nil {
		r.Videos = []VideoRef{}
	}
	if r.ImprovedTitles == nil {
		r.ImprovedTitles = []TitleImprovement{}
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T {
	return &v
}
