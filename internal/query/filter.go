package query

import "strconv"

// ChannelRecord is one RPL_LIST entry. Topic is "" when the server sent none.
type ChannelRecord struct {
	Name  string
	Topic string
	Users uint32
}

// Entry renders the record as a reply entry. Channel names cannot contain
// spaces, so entries never contain one either.
func (r ChannelRecord) Entry() string {
	return r.Name + "(" + strconv.FormatUint(uint64(r.Users), 10) + ")"
}

// TopicEntry renders the record with its topic
func (r ChannelRecord) TopicEntry() string {
	if r.Topic == "" {
		return r.Entry()
	}
	return r.Entry() + ": " + r.Topic
}

// Matches reports whether the record passes every criterion of spec
func (r ChannelRecord) Matches(spec Spec) bool {
	if r.Users < spec.Min || r.Users > spec.Max {
		return false
	}
	if !spec.Name.Match(r.Name) {
		return false
	}
	if spec.Topic != nil && !spec.Topic.Match(r.Topic) {
		return false
	}
	return true
}

// Filter returns the records matching spec, in their original order
func Filter(records []ChannelRecord, spec Spec) []ChannelRecord {
	out := make([]ChannelRecord, 0, len(records))
	for _, r := range records {
		if r.Matches(spec) {
			out = append(out, r)
		}
	}
	return out
}

// Entries renders each record with Entry
func Entries(records []ChannelRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Entry()
	}
	return out
}

// TopicEntries renders each record with TopicEntry
func TopicEntries(records []ChannelRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.TopicEntry()
	}
	return out
}
