package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
)

func sampleVideos() []jobstore.VideoRef {
	return []jobstore.VideoRef{
		{VideoID: "v1", Title: "one", URL: "https://www.youtube.com/watch?v=v1", PublishedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{VideoID: "v2", Title: "two", URL: "https://www.youtube.com/watch?v=v2", PublishedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func TestEncodeDecode_AllTopics(t *testing.T) {
	resolveFailed, err := NewStageFailed(jobstore.StageResolve, "job_1", "a@b.com", "channel not found")
	require.NoError(t, err)

	msgs := []Message{
		Submitted{JobID: "job_1", RawChannelInput: "@creator", Email: "a@b.com"},
		ChannelResolved{JobID: "job_1", Email: "a@b.com", ChannelID: "UC1", ChannelName: "Creator"},
		VideosFetched{JobID: "job_1", ChannelName: "Creator", Email: "a@b.com", Videos: sampleVideos()},
		TitlesGenerated{JobID: "job_1", ChannelName: "Creator", Email: "a@b.com", ImprovedTitles: []jobstore.TitleImprovement{{Original: "one", Improved: "ONE", Rationale: "caps", URL: "u"}}},
		EmailSent{JobID: "job_1", Email: "a@b.com", EmailID: "mail-1"},
		resolveFailed,
		FailureNotified{JobID: "job_1", EmailID: "mail-2"},
	}

	for _, m := range msgs {
		t.Run(string(m.Topic()), func(t *testing.T) {
			payload, err := Encode(m)
			require.NoError(t, err)

			got, err := Decode(m.Topic(), payload)
			require.NoError(t, err)
			assert.Equal(t, m, got)
			assert.Equal(t, "job_1", got.Key())
		})
	}
}

func TestNewStageFailed_TopicPerStage(t *testing.T) {
	tests := []struct {
		stage jobstore.Stage
		topic Topic
	}{
		{jobstore.StageResolve, TopicChannelFailed},
		{jobstore.StageFetch, TopicVideosFailed},
		{jobstore.StageGenerate, TopicTitlesFailed},
	}
	for _, tt := range tests {
		m, err := NewStageFailed(tt.stage, "job_1", "a@b.com", "boom")
		require.NoError(t, err)
		assert.Equal(t, tt.topic, m.Topic())
		assert.Contains(t, FailureTopics(), m.Topic())
	}

	for _, stage := range []jobstore.Stage{jobstore.StageEmail, jobstore.StageSubmit, "bogus"} {
		_, err := NewStageFailed(stage, "job_1", "a@b.com", "boom")
		assert.ErrorIs(t, err, apperror.ErrBadRequest, string(stage))
	}
}

func TestFailureTopics_CoverEveryEscalatingStage(t *testing.T) {
	assert.Len(t, FailureTopics(), len(failureTopics))
	for _, topic := range failureTopics {
		assert.Contains(t, FailureTopics(), topic)
	}
}

func TestEncode_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"submitted without email", Submitted{JobID: "job_1", RawChannelInput: "@x"}},
		{"submitted blank channel", Submitted{JobID: "job_1", RawChannelInput: "   ", Email: "a@b.com"}},
		{"resolved without channel", ChannelResolved{JobID: "job_1", Email: "a@b.com"}},
		{"no videos", VideosFetched{JobID: "job_1", Email: "a@b.com"}},
		{"too many videos", VideosFetched{JobID: "job_1", Email: "a@b.com", Videos: make([]jobstore.VideoRef, 6)}},
		{"no titles", TitlesGenerated{JobID: "job_1", Email: "a@b.com"}},
		{"failure without reason", StageFailed{JobID: "job_1", Email: "a@b.com", Stage: jobstore.StageFetch}},
		{"notified without job", FailureNotified{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			assert.ErrorIs(t, err, apperror.ErrBadRequest)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("yt.unknown", []byte(`{}`))
	assert.ErrorIs(t, err, apperror.ErrParse)

	_, err = Decode(TopicSubmitted, []byte(`{not json`))
	assert.ErrorIs(t, err, apperror.ErrParse)

	_, err = Decode(TopicSubmitted, []byte(`{"jobId":"job_1"}`))
	assert.ErrorIs(t, err, apperror.ErrBadRequest)

	// A fetch failure delivered on the channel failure topic is rejected.
	_, err = Decode(TopicChannelFailed, []byte(`{"jobId":"job_1","email":"a@b.com","error":"x","stage":"fetch"}`))
	assert.ErrorIs(t, err, apperror.ErrParse)
}
