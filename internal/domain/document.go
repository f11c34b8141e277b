package domain

import "time"

// Payload is the producer-supplied body of a queue item.
// Its schema belongs to the producer; the queue never reads field names.
type Payload map[string]any

// Clone returns a shallow copy so callers cannot mutate a stored payload's top level.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Repeat records the recurrence intent of a scheduled item.
// It is informational only: nothing re-enqueues an item automatically.
type Repeat string

const (
	RepeatNone     Repeat = "none"
	RepeatMinutely Repeat = "minutely"
	RepeatHourly   Repeat = "hourly"
	RepeatDaily    Repeat = "daily"
	RepeatWeekly   Repeat = "weekly"
	RepeatCustom   Repeat = "custom"
)

func (r Repeat) IsValid() bool {
	switch r {
	case RepeatNone, RepeatMinutely, RepeatHourly, RepeatDaily, RepeatWeekly, RepeatCustom:
		return true
	}
	return false
}

// Next returns the next fire time after from for the fixed periods.
// None and Custom have no intrinsic period and return false.
func (r Repeat) Next(from time.Time) (time.Time, bool) {
	switch r {
	case RepeatMinutely:
		return from.Add(time.Minute), true
	case RepeatHourly:
		return from.Add(time.Hour), true
	case RepeatDaily:
		return from.AddDate(0, 0, 1), true
	case RepeatWeekly:
		return from.AddDate(0, 0, 7), true
	}
	return time.Time{}, false
}

// Schedule controls when an item becomes eligible for claim.
type Schedule struct {
	NextRun time.Time `json:"next_run"`
	Repeat  Repeat    `json:"repeat"`
}

// Due reports whether the schedule allows a claim at now (NextRun <= now).
func (s *Schedule) Due(now time.Time) bool {
	return s == nil || !s.NextRun.After(now)
}

// Lease is a time-bounded exclusive claim held by one consumer.
type Lease struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message,omitempty"`
}

// Live reports whether the lease still excludes other consumers at now.
// A lease is live up to and including ExpiresAt; it lapses strictly after,
// matching the expiresAt < now reclaim rule of every store.
func (l *Lease) Live(now time.Time) bool {
	return l != nil && !now.After(l.ExpiresAt)
}

// Document is one stored queue item: the payload plus lease and schedule metadata.
type Document struct {
	ID        string    `json:"id"`
	QueueName string    `json:"queue_name"`
	Payload   Payload   `json:"payload"`
	Lease     *Lease    `json:"lease,omitempty"`
	Schedule  *Schedule `json:"schedule,omitempty"`
}

// Claimable is the claim predicate shared by in-process backends:
// same queue, schedule due, and no live lease. An expired lease counts as no lease.
func (d *Document) Claimable(queueName string, now time.Time) bool {
	return d.QueueName == queueName && d.Schedule.Due(now) && !d.Lease.Live(now)
}

// DocumentUpdate is a partial update addressed by document id.
// Nil fields are left untouched; ClearLease removes the lease entirely
// and takes precedence over the lease fields.
type DocumentUpdate struct {
	LeaseMessage   *string
	LeaseExpiresAt *time.Time
	Schedule       *Schedule
	ClearLease     bool
}

// TouchesLease reports whether u renews fields of an existing lease.
// Stores reject such updates with ErrNotFound when the document holds no lease.
func (u DocumentUpdate) TouchesLease() bool {
	return !u.ClearLease && (u.LeaseMessage != nil || u.LeaseExpiresAt != nil)
}

// Apply mutates d in place according to u. Lease fields are ignored when d
// has no lease; Apply never creates one.
func (u DocumentUpdate) Apply(d *Document) {
	if u.Schedule != nil {
		s := *u.Schedule
		d.Schedule = &s
	}
	if u.ClearLease {
		d.Lease = nil
		return
	}
	if !u.TouchesLease() || d.Lease == nil {
		return
	}
	if u.LeaseMessage != nil {
		d.Lease.Message = *u.LeaseMessage
	}
	if u.LeaseExpiresAt != nil {
		d.Lease.ExpiresAt = *u.LeaseExpiresAt
	}
}

// PushRequest is the inbound body for enqueueing an item over HTTP.
type PushRequest struct {
	Payload  Payload   `json:"payload"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

func (r *PushRequest) Validate() error {
	if r.Payload == nil {
		return ErrNilPayload
	}
	if r.Schedule != nil && r.Schedule.Repeat != "" && !r.Schedule.Repeat.IsValid() {
		return ErrInvalidRepeat
	}
	return nil
}

// PopRequest optionally carries a status message recorded with the claim.
type PopRequest struct {
	Message string `json:"message,omitempty"`
}

// UpdateRequest carries a progress message for a held lease.
type UpdateRequest struct {
	Message string `json:"message"`
}

// RescheduleRequest defers a held item to NextRun.
type RescheduleRequest struct {
	NextRun *time.Time `json:"next_run"`
}

func (r *RescheduleRequest) Validate() error {
	if r.NextRun == nil || r.NextRun.IsZero() {
		return ErrMissingNextRun
	}
	return nil
}
