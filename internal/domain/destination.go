package domain

import (
	"slices"
	"time"
)

// Destination is a shared posting target (a subreddit-equivalent, a Telegram
// channel, a public RSS feed) together with its routing state. The routing
// fields persist so restarts do not reset cooldowns or daily counters.
type Destination struct {
	ID             string        `json:"id"`
	Kind           ChannelKind   `json:"kind"`
	Name           string        `json:"name"`
	Target         string        `json:"target"`
	Categories     []string      `json:"categories"`
	MinCooldown    time.Duration `json:"min_cooldown"`
	MaxPostsPerDay int           `json:"max_posts_per_day"`
	LastPostAt     *time.Time    `json:"last_post_at,omitempty"`
	PostsToday     int           `json:"posts_today"`
	DayStartedAt   time.Time     `json:"day_started_at"`
	Disabled       bool          `json:"disabled"`
	DisabledReason string        `json:"disabled_reason,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Eligible reports whether the destination accepts the category and is enabled.
func (d *Destination) Eligible(category string) bool {
	return !d.Disabled && slices.Contains(d.Categories, category)
}

// postsTodayAt returns the daily counter as seen at now. The counter resets
// once 24h have passed since its own last reset, not at midnight.
func (d *Destination) postsTodayAt(now time.Time) int {
	if now.Sub(d.DayStartedAt) >= 24*time.Hour {
		return 0
	}
	return d.PostsToday
}

// Available reports whether both the cooldown and the daily cap allow a post.
func (d *Destination) Available(now time.Time) bool {
	if d.LastPostAt != nil && now.Sub(*d.LastPostAt) < d.MinCooldown {
		return false
	}
	return d.postsTodayAt(now) < d.MaxPostsPerDay
}

// SinceLastPost is the elapsed time since the last post. Destinations that
// never posted report the largest possible duration.
func (d *Destination) SinceLastPost(now time.Time) time.Duration {
	if d.LastPostAt == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(*d.LastPostAt)
}

// RecordPost applies a successful post to the routing state.
func (d *Destination) RecordPost(now time.Time) {
	if now.Sub(d.DayStartedAt) >= 24*time.Hour {
		d.PostsToday = 0
		d.DayStartedAt = now
	}
	d.PostsToday++
	d.LastPostAt = &now
	d.UpdatedAt = now
}

// PostClaim is a post applied to a destination before the send. It keeps
// the prior routing state so a failed send can be undone.
type PostClaim struct {
	DestinationID    string
	ClaimedAt        time.Time
	PostsAfter       int
	PrevLastPostAt   *time.Time
	PrevPostsToday   int
	PrevDayStartedAt time.Time
}

// Claim applies a post at now if the destination is still enabled and
// available. It reports false and leaves d untouched otherwise.
func (d *Destination) Claim(now time.Time) (PostClaim, bool) {
	if d.Disabled || !d.Available(now) {
		return PostClaim{}, false
	}
	c := PostClaim{
		DestinationID:    d.ID,
		ClaimedAt:        now,
		PrevLastPostAt:   d.LastPostAt,
		PrevPostsToday:   d.PostsToday,
		PrevDayStartedAt: d.DayStartedAt,
	}
	d.RecordPost(now)
	c.PostsAfter = d.PostsToday
	return c, true
}

// Unclaim restores the state c replaced. It reports false, changing
// nothing, when another post has landed since the claim.
func (d *Destination) Unclaim(c PostClaim) bool {
	if d.LastPostAt == nil || !d.LastPostAt.Equal(c.ClaimedAt) || d.PostsToday != c.PostsAfter {
		return false
	}
	d.LastPostAt = c.PrevLastPostAt
	d.PostsToday = c.PrevPostsToday
	d.DayStartedAt = c.PrevDayStartedAt
	return true
}

// RecentPost records that a logical product was posted to a destination.
type RecentPost struct {
	ProductKey    string    `json:"product_key"`
	DestinationID string    `json:"destination_id"`
	PostedAt      time.Time `json:"posted_at"`
}
