package domain

import (
	"strings"
	"time"
)

// ChannelKind is the delivery channel of a notification job.
// Social jobs are routed by ChannelRouter to one shared destination;
// every other kind is delivered straight to the user's own contact.
type ChannelKind string

const (
	ChannelEmail    ChannelKind = "email"
	ChannelSMS      ChannelKind = "sms"
	ChannelTelegram ChannelKind = "telegram"
	ChannelRSS      ChannelKind = "rss"
	ChannelSocial   ChannelKind = "social"
)

func (c ChannelKind) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelTelegram, ChannelRSS, ChannelSocial:
		return true
	}
	return false
}

// JobStatus tracks the lifecycle of a notification job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobDelivered  JobStatus = "delivered"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobDelivered, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{JobPending, JobInProgress, JobDelivered, JobFailed, JobCancelled}

// legalTransitions is the complete job state machine:
//
//	pending     -> in_progress | cancelled
//	in_progress -> delivered | pending (retry, defer) | failed | cancelled
var legalTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobInProgress, JobCancelled},
	JobInProgress: {JobDelivered, JobPending, JobFailed, JobCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to JobStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	// DefaultMaxAttempts bounds delivery attempts per job.
	DefaultMaxAttempts = 3
	// RetryDelay is the fixed re-queue delay after a retryable failure.
	RetryDelay = 5 * time.Minute
	// JobRetention is how long terminal jobs are kept before purge.
	JobRetention = 30 * 24 * time.Hour
	// LeaseTTL is how long an in_progress job may go without an update
	// before another pass may lease it again. It must exceed the longest
	// delivery pass.
	LeaseTTL = 15 * time.Minute
)

// Message is the rendered payload a job carries. Jobs never carry the raw
// ChangeEvent; rendering happens once at enqueue time.
type Message struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	Category   string `json:"category,omitempty"`
	ProductKey string `json:"product_key"`
}

// Text joins the message parts into the single string most senders post.
func (m Message) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{m.Title, m.Body, m.URL} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// NotificationJob is one unit of queued delivery work.
type NotificationJob struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Channel      ChannelKind `json:"channel"`
	ItemID       string      `json:"item_id,omitempty"`
	EventID      string      `json:"event_id"`
	EventKind    ChangeKind  `json:"event_kind"`
	Retailer     Retailer    `json:"retailer"`
	ProductKey   string      `json:"product_key"`
	Payload      Message     `json:"payload"`
	Status       JobStatus   `json:"status"`
	Attempts     int         `json:"attempts"`
	MaxAttempts  int         `json:"max_attempts"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	DetectedAt   time.Time   `json:"detected_at"`
	DedupKey     *string     `json:"dedup_key,omitempty"`
	LastError    *string     `json:"last_error,omitempty"`
	ExternalID   *string     `json:"external_id,omitempty"`
	DeliveredAt  *time.Time  `json:"delivered_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// DedupKey builds the composite key user × item × event-kind × channel × day.
// The day is taken from the detection time in UTC so that re-deriving the key
// on a later queue pass yields the same value.
func DedupKey(userID, itemKey string, kind ChangeKind, channel ChannelKind, detectedAt time.Time) string {
	return strings.Join([]string{
		userID, itemKey, string(kind), string(channel), detectedAt.UTC().Format("2006-01-02"),
	}, "|")
}

func (j *NotificationJob) transition(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return ErrInvalidTransition
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// Start leases a pending job for delivery.
func (j *NotificationJob) Start(now time.Time) error {
	return j.transition(JobInProgress, now)
}

// Deliver marks the job delivered with the sender's external id.
func (j *NotificationJob) Deliver(externalID string, now time.Time) error {
	if err := j.transition(JobDelivered, now); err != nil {
		return err
	}
	j.Attempts++
	if externalID != "" {
		j.ExternalID = &externalID
	}
	j.DeliveredAt = &now
	j.LastError = nil
	return nil
}

// Retry records a failed attempt and re-queues the job at retryAt.
// Once the attempt budget is spent the job fails terminally instead.
// It returns true when the job was re-queued.
func (j *NotificationJob) Retry(cause string, retryAt, now time.Time) (bool, error) {
	if j.Status != JobInProgress {
		return false, ErrInvalidTransition
	}
	j.Attempts++
	j.LastError = &cause
	if j.Attempts >= j.MaxAttempts {
		return false, j.transition(JobFailed, now)
	}
	j.ScheduledFor = retryAt
	return true, j.transition(JobPending, now)
}

// Defer puts a leased job back without spending an attempt.
func (j *NotificationJob) Defer(until, now time.Time) error {
	if err := j.transition(JobPending, now); err != nil {
		return err
	}
	j.ScheduledFor = until
	return nil
}

// Release hands a leased job back untouched: no attempt is spent and the
// original due time is kept.
func (j *NotificationJob) Release(now time.Time) error {
	if j.Status != JobInProgress {
		return ErrInvalidTransition
	}
	return j.transition(JobPending, now)
}

// Fail marks the job failed terminally on a non-retryable error.
func (j *NotificationJob) Fail(cause string, now time.Time) error {
	if err := j.transition(JobFailed, now); err != nil {
		return err
	}
	j.Attempts++
	j.LastError = &cause
	return nil
}

// Cancel ends the job without delivery (policy suppression or admin action).
func (j *NotificationJob) Cancel(reason string, now time.Time) error {
	if err := j.transition(JobCancelled, now); err != nil {
		return err
	}
	j.LastError = &reason
	return nil
}

// JobStats is an aggregate count of jobs by status.
type JobStats map[JobStatus]int
