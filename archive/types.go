// Package archive is the embedded store: a single SQLite file holding every
// tracked entity, a versioned schema with forward-only migrations, typed
// repositories with deduplicating upserts, and the download queue the
// downloader engine drains.
package archive

// Entity ids are 64-bit unsigned snowflakes. SQLite INTEGER is signed, so
// ids round-trip through int64 two's complement on the way in and out.

// User is a chat platform account.
type User struct {
	ID            uint64
	Name          string
	AvatarURL     *string
	Discriminator *string
}

// ServerType tags the container a channel lives in.
type ServerType string

const (
	ServerTypeServer ServerType = "server"
	ServerTypeGroup  ServerType = "group"
	ServerTypeDM     ServerType = "dm"
)

// Server is a guild, group call, or direct-message container.
type Server struct {
	ID   uint64
	Name string
	Type ServerType
}

// Channel belongs to a Server.
type Channel struct {
	ID       uint64
	ServerID uint64
	Name     string
	ParentID *uint64
	Position *int64
	Topic    *string
	NSFW     *bool
}

// Attachment is a file referenced by a message. DownloadURL is the verbatim
// URL the capture script saw; NormalizedURL is the stable key produced by
// urlnorm and shared with the download queue.
type Attachment struct {
	ID            uint64
	Name          string
	Type          *string
	NormalizedURL string
	DownloadURL   string
	Size          int64
	Width         *int64
	Height        *int64
}

// Reaction is one emoji aggregate on a message. At least one of EmojiID and
// EmojiName is set.
type Reaction struct {
	EmojiID    *uint64
	EmojiName  *string
	EmojiFlags int64
	Count      int64
}

// PollAnswer is one selectable answer of a Poll.
type PollAnswer struct {
	AnswerID   int64
	Text       string
	EmojiID    *uint64
	EmojiName  *string
	EmojiFlags *int64
}

// Poll is attached to at most one message.
type Poll struct {
	Question        string
	MultiSelect     bool
	ExpiryTimestamp int64
	Answers         []PollAnswer
}

// Message is the unit of ingest. Dependent slices are replaced wholesale on
// re-add of the same id.
type Message struct {
	ID            uint64
	Sender        uint64
	Channel       uint64
	Text          string
	Timestamp     int64
	EditTimestamp *int64
	RepliedToID   *uint64
	Attachments   []Attachment
	Embeds        []string
	Reactions     []Reaction
	Poll          *Poll
}

// DownloadStatus is the persisted state of one download item. HTTP failures
// are encoded above HTTPStatusBase so one integer column carries both
// sentinels and status codes.
type DownloadStatus int64

const (
	StatusEnqueued     DownloadStatus = 0
	StatusDownloading  DownloadStatus = 1
	StatusSuccess      DownloadStatus = 2
	StatusGenericError DownloadStatus = 3
	StatusSkipped      DownloadStatus = 4

	// HTTPStatusBase offsets encoded HTTP status codes.
	HTTPStatusBase DownloadStatus = 1000
)

// HTTPStatus encodes a non-2xx response code as a DownloadStatus.
func HTTPStatus(code int) DownloadStatus {
	return HTTPStatusBase + DownloadStatus(code)
}

// IsFailure reports whether s is a terminal failure (generic or HTTP).
func (s DownloadStatus) IsFailure() bool {
	return s == StatusGenericError || s >= HTTPStatusBase
}

// StatusClass buckets statuses for filtering and statistics.
type StatusClass int

const (
	ClassEnqueued StatusClass = iota // Enqueued or Downloading
	ClassSuccess
	ClassFailed // GenericError or any encoded HTTP code
	ClassSkipped
)

// Class maps a status to its bucket.
func (s DownloadStatus) Class() StatusClass {
	switch {
	case s == StatusSuccess:
		return ClassSuccess
	case s == StatusSkipped:
		return ClassSkipped
	case s.IsFailure():
		return ClassFailed
	default:
		return ClassEnqueued
	}
}

// DownloadItem is one row of the download queue.
type DownloadItem struct {
	NormalizedURL string
	DownloadURL   string
	Status        DownloadStatus
	Type          *string
	Size          *int64
}

// DownloadOutcome is the terminal result a worker writes back for one item.
// Blob is non-nil only for StatusSuccess.
type DownloadOutcome struct {
	Status DownloadStatus
	Type   *string
	Size   *int64
	Blob   []byte
}

// DownloadStatusStatistics is a pure snapshot of queue composition.
type DownloadStatusStatistics struct {
	Enqueued   StatusTally
	Successful StatusTally
	Failed     StatusTally
	Skipped    StatusTally
}

// StatusTally is a count plus accumulated byte size for one bucket.
type StatusTally struct {
	Count      int64
	TotalBytes int64
}

// AttachmentFilter selects which attachments Enqueue considers. Zero values
// disable the corresponding criterion.
type AttachmentFilter struct {
	// MaxBytes skips attachments whose reported size exceeds the limit.
	MaxBytes int64
	// ChannelIDs restricts to attachments of messages in these channels.
	ChannelIDs []uint64
}

// RemoveMode selects how Remove interprets its status classes.
type RemoveMode int

const (
	RemoveMatching RemoveMode = iota
	KeepMatching
)

func signed(u uint64) int64 { return int64(u) }

func unsigned(i int64) uint64 { return uint64(i) }

func signedPtr(u *uint64) *int64 {
	if u == nil {
		return nil
	}
	v := int64(*u)
	return &v
}

func unsignedPtr(i *int64) *uint64 {
	if i == nil {
		return nil
	}
	v := uint64(*i)
	return &v
}
