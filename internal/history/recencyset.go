package history

import "encoding/json"

// RecencySet is a bounded set that remembers insertion recency. Adding a
// value already present refreshes it to most-recent; adding a new value at
// capacity evicts the oldest. Membership is what risk scoring cares about,
// the ordering only decides who gets evicted.
type RecencySet struct {
	capacity int
	values   []string // oldest first
	index    map[string]struct{}
}

// NewRecencySet creates a set bounded to the given capacity.
// A capacity <= 0 falls back to DefaultWindowSize.
func NewRecencySet(capacity int) *RecencySet {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &RecencySet{
		capacity: capacity,
		index:    make(map[string]struct{}),
	}
}

// Add inserts v as the most recent value. Re-adding an existing value is
// idempotent for membership and only refreshes recency.
func (s *RecencySet) Add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.index[v]; ok {
		// Move to most-recent position.
		for i, cur := range s.values {
			if cur == v {
				s.values = append(s.values[:i], s.values[i+1:]...)
				break
			}
		}
		s.values = append(s.values, v)
		return
	}
	if len(s.values) >= s.capacity {
		evicted := s.values[0]
		s.values = s.values[1:]
		delete(s.index, evicted)
	}
	s.values = append(s.values, v)
	s.index[v] = struct{}{}
}

// Contains reports membership.
func (s *RecencySet) Contains(v string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[v]
	return ok
}

// Len returns the number of values currently held.
func (s *RecencySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Values returns the values oldest-first. The slice is a copy.
func (s *RecencySet) Values() []string {
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// Clone returns an independent copy with the same capacity and contents.
func (s *RecencySet) Clone() *RecencySet {
	if s == nil {
		return nil
	}
	c := NewRecencySet(s.capacity)
	for _, v := range s.values {
		c.Add(v)
	}
	return c
}

// MarshalJSON encodes the set as an ordered array, oldest first.
func (s *RecencySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes an ordered array. Capacity is preserved if the set
// was constructed with NewRecencySet, otherwise DefaultWindowSize applies.
func (s *RecencySet) UnmarshalJSON(data []byte) error {
	var vals []string
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	if s.capacity <= 0 {
		s.capacity = DefaultWindowSize
	}
	s.values = nil
	s.index = make(map[string]struct{})
	for _, v := range vals {
		s.Add(v)
	}
	return nil
}
