package jobstore

import (
	"fmt"
	"time"
)

// Update is a partial change applied to a JobRecord under the per-key lock.
// Each implementation lists exactly the fields one stage may write.
type Update interface {
	apply(r *JobRecord, now time.Time) error
}

// advance moves r to next when next is strictly ahead of the current status.
func advance(r *JobRecord, next Status) error {
	if r.Status.IsTerminal() || !r.Status.Before(next) {
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// Resolving marks the start of channel resolution.
type Resolving struct{}

func (Resolving) apply(r *JobRecord, _ time.Time) error {
	return advance(r, StatusResolving)
}

// Resolved stores the resolved channel.
type Resolved struct {
	ChannelID   string
	ChannelName string
}

func (u Resolved) apply(r *JobRecord, _ time.Time) error {
	if u.ChannelID == "" {
		return fmt.Errorf("%w: empty channel id", ErrInvalidUpdate)
	}
	if err := advance(r, StatusResolved); err != nil {
		return err
	}
	r.ChannelID = ptr(u.ChannelID)
	r.ChannelName = ptr(u.ChannelName)
	return nil
}

// VideosFetching marks the start of the video listing.
type VideosFetching struct{}

func (VideosFetching) apply(r *JobRecord, _ time.Time) error {
	return advance(r, StatusVideosFetching)
}

// VideosFetched stores the ordered recent videos.
type VideosFetched struct {
	Videos []VideoRef
}

func (u VideosFetched) apply(r *JobRecord, _ time.Time) error {
	if len(u.Videos) == 0 || len(u.Videos) > MaxVideos {
		return fmt.Errorf("%w: %d videos", ErrInvalidUpdate, len(u.Videos))
	}
	if err := advance(r, StatusVideosFetched); err != nil {
		return err
	}
	r.Videos = append([]VideoRef{}, u.Videos...)
	return nil
}

// TitlesGenerating marks the start of title generation.
type TitlesGenerating struct{}

func (TitlesGenerating) apply(r *JobRecord, _ time.Time) error {
	return advance(r, StatusTitlesGenerating)
}

// TitlesGenerated stores improvements that correspond positionally to the stored videos.
type TitlesGenerated struct {
	ImprovedTitles []TitleImprovement
}

func (u TitlesGenerated) apply(r *JobRecord, _ time.Time) error {
	if len(u.ImprovedTitles) != len(r.Videos) {
		return fmt.Errorf("%w: %d titles for %d videos", ErrInvalidUpdate, len(u.ImprovedTitles), len(r.Videos))
	}
	for i, t := range u.ImprovedTitles {
		if t.URL != r.Videos[i].URL {
			return fmt.Errorf("%w: title %d does not match video url", ErrInvalidUpdate, i)
		}
	}
	if err := advance(r, StatusTitlesGenerated); err != nil {
		return err
	}
	r.ImprovedTitles = append([]TitleImprovement{}, u.ImprovedTitles...)
	return nil
}

// EmailSending marks the start of result delivery.
type EmailSending struct{}

func (EmailSending) apply(r *JobRecord, _ time.Time) error {
	return advance(r, StatusEmailSending)
}

// Completed records the delivery receipt.
type Completed struct {
	EmailID string
}

func (u Completed) apply(r *JobRecord, now time.Time) error {
	if err := advance(r, StatusCompleted); err != nil {
		return err
	}
	r.EmailID = ptr(u.EmailID)
	r.CompletedAt = ptr(now)
	return nil
}

// Failed ends the job. It is accepted from any non-terminal status.
type Failed struct {
	Stage  Stage
	Reason string
}

func (u Failed) apply(r *JobRecord, _ time.Time) error {
	if u.Reason == "" {
		return fmt.Errorf("%w: empty failure reason", ErrInvalidUpdate)
	}
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, r.Status, StatusFailed)
	}
	r.Status = StatusFailed
	r.Error = ptr(u.Reason)
	r.FailedStage = ptr(u.Stage)
	return nil
}

// NotificationClaim reserves the single failure notification of a failed job.
type NotificationClaim struct{}

func (NotificationClaim) apply(r *JobRecord, now time.Time) error {
	if r.Status != StatusFailed {
		return fmt.Errorf("%w: notification claim on %s job", ErrInvalidUpdate, r.Status)
	}
	if r.Notification != nil {
		return ErrAlreadyClaimed
	}
	r.Notification = &Notification{ClaimedAt: now}
	return nil
}

// NotificationResult records the outcome of a claimed notification.
type NotificationResult struct {
	EmailID string
	Err     error
}

func (u NotificationResult) apply(r *JobRecord, now time.Time) error {
	if r.Notification == nil {
		return fmt.Errorf("%w: notification result without claim", ErrInvalidUpdate)
	}
	n := *r.Notification
	if u.Err != nil {
		n.Error = u.Err.Error()
	} else {
		n.EmailID = u.EmailID
		n.SentAt = ptr(now)
	}
	r.Notification = &n
	return nil
}
