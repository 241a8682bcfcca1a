package timeline

import (
	"slices"
	"time"

	"github.com/connectsocial/internal/model"
)

const (
	KeyToday     = "Today"
	KeyYesterday = "Yesterday"
	KeyUndated   = "Undated"
)

// Result is the (messages, groups) pair every timeline mutation produces.
type Result struct {
	Messages []model.Message
	Groups   []model.DateGroup
}

// Merger combines the two channel sources. Now is read once per call to compute Today/Yesterday.
type Merger struct {
	Location *time.Location
	Now      func() time.Time
}

func NewMerger(loc *time.Location, now func() time.Time) *Merger {
	if now == nil {
		now = time.Now
	}
	return &Merger{Location: location(loc), Now: now}
}

// Merge normalizes both raw sequences, concatenates them after existing, deduplicates by id and
// stable-sorts by CreatedAt. Messages of existing without an id cannot be matched against the
// fetch, so they are dropped and the fetched copies stand. Merging the same fetch again is a no-op.
func (mg *Merger) Merge(existing []model.Message, sms []model.RawSMS, wa []model.RawWhatsApp) Result {
	all := make([]model.Message, 0, len(existing)+len(sms)+len(wa))
	for _, m := range existing {
		if m.ID != "" {
			all = append(all, m)
		}
	}
	for _, r := range sms {
		all = append(all, Normalize(r, model.ChannelSMS, mg.Location))
	}
	for _, r := range wa {
		all = append(all, Normalize(r, model.ChannelWhatsApp, mg.Location))
	}

	msgs := Order(Dedupe(all))
	return Result{Messages: msgs, Groups: Group(msgs, mg.Now(), mg.Location)}
}

// Append adds a server-confirmed message at the end (resolution order, no re-sort). A message with
// the same id is replaced in place instead.
func (mg *Merger) Append(existing []model.Message, m model.Message) Result {
	msgs := make([]model.Message, 0, len(existing)+1)
	replaced := false
	for _, cur := range existing {
		if !replaced && cur.ID != "" && cur.ID == m.ID {
			msgs = append(msgs, prefer(cur, m))
			replaced = true
			continue
		}
		msgs = append(msgs, cur)
	}
	if !replaced {
		msgs = append(msgs, m)
	}
	return Result{Messages: msgs, Groups: Group(msgs, mg.Now(), mg.Location)}
}

// Regroup recomputes groups for an unchanged message sequence against the current clock.
func (mg *Merger) Regroup(msgs []model.Message) Result {
	return Result{Messages: msgs, Groups: Group(msgs, mg.Now(), mg.Location)}
}

// Dedupe keeps one entry per id at the position of its first occurrence. A confirmed copy beats
// an optimistic one; between two confirmed copies the later one wins (fresher delivery status).
// Messages without an id are never collapsed.
func Dedupe(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	idx := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			out = append(out, m)
			continue
		}
		if i, ok := idx[m.ID]; ok {
			out[i] = prefer(out[i], m)
			continue
		}
		idx[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

func prefer(cur, next model.Message) model.Message {
	if !cur.IsOptimistic && next.IsOptimistic {
		return cur
	}
	return next
}

// Order sorts by CreatedAt ascending; equal timestamps keep their relative input order.
func Order(msgs []model.Message) []model.Message {
	slices.SortStableFunc(msgs, func(a, b model.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return msgs
}

// Group buckets messages by calendar day in loc. Groups come out in first-occurrence order, which
// is chronological for an ordered input; message order inside a bucket is preserved.
func Group(msgs []model.Message, now time.Time, loc *time.Location) []model.DateGroup {
	loc = location(loc)
	today := civilDay(now.In(loc))
	yesterday := civilDay(now.In(loc).AddDate(0, 0, -1))

	groups := make([]model.DateGroup, 0)
	idx := make(map[string]int)
	for _, m := range msgs {
		key := dateKey(m.CreatedAt, loc, today, yesterday)
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, model.DateGroup{DateKey: key})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return groups
}

type day struct {
	y int
	m time.Month
	d int
}

func civilDay(t time.Time) day {
	y, m, d := t.Date()
	return day{y, m, d}
}

func dateKey(t time.Time, loc *time.Location, today, yesterday day) string {
	if t.IsZero() {
		return KeyUndated
	}
	local := t.In(loc)
	switch civilDay(local) {
	case today:
		return KeyToday
	case yesterday:
		return KeyYesterday
	}
	return local.Format(dateKeyLayout)
}
