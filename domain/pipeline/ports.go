package pipeline

import (
	"context"
	"io"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/email"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/titles"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/youtube"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/storage"
)

// ChannelResolver maps user input to a channel.
type ChannelResolver interface {
	Resolve(ctx context.Context, query string) (youtube.Channel, error)
}

// VideoLister returns a channel's most recent uploads, newest first.
type VideoLister interface {
	ListRecent(ctx context.Context, channelID string, limit int) ([]jobstore.VideoRef, error)
}

// TitleGenerator returns one suggestion per title, in input order.
type TitleGenerator interface {
	Generate(ctx context.Context, channelName string, titles []string) ([]titles.Suggestion, error)
}

// Renderer produces the result and failure emails.
type Renderer interface {
	Report(channelName string, titles []jobstore.TitleImprovement) (email.Rendered, error)
	Failure() (email.Rendered, error)
}

// ReportArchive stores rendered reports. Archiving is skipped when not enabled.
type ReportArchive interface {
	Enabled() bool
	ArchiveReport(ctx context.Context, jobID, text string) (*storage.UploadResult, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

var (
	_ ChannelResolver = (*youtube.Client)(nil)
	_ VideoLister     = (*youtube.Client)(nil)
	_ TitleGenerator  = (*titles.Generator)(nil)
	_ Renderer        = (*email.Templates)(nil)
	_ ReportArchive   = (*storage.Service)(nil)
)
