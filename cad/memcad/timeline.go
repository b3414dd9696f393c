package memcad

import (
	"fmt"

	"github.com/m4xw311/cadlink/cad"
)

// Timeline is the ordered feature history.
type Timeline struct {
	design *Design
	items  []*TimelineItem
	// marker is the number of items in effect; len(items) means "at end".
	marker int
}

func (t *Timeline) ObjectType() string { return "Timeline" }

func (t *Timeline) Items() []cad.TimelineItem {
	out := make([]cad.TimelineItem, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, it)
	}
	return out
}

func (t *Timeline) Count() int          { return len(t.items) }
func (t *Timeline) MarkerPosition() int { return t.marker }

func (t *Timeline) SetMarkerPosition(pos int) error {
	if pos < 0 || pos > len(t.items) {
		return fmt.Errorf("marker position %d out of range [0, %d]", pos, len(t.items))
	}
	t.marker = pos
	return nil
}

func (t *Timeline) MoveToEnd() { t.marker = len(t.items) }

// AtEnd reports whether the marker sits after the last item.
func (t *Timeline) AtEnd() bool { return t.marker == len(t.items) }

func (t *Timeline) add(name string, target cad.Entity) (*TimelineItem, error) {
	if !t.AtEnd() {
		return nil, fmt.Errorf("timeline is rolled back to position %d; move the marker to the end before adding features", t.marker)
	}
	it := &TimelineItem{timeline: t, index: len(t.items), name: name, target: target}
	t.items = append(t.items, it)
	t.marker = len(t.items)
	return it, nil
}

// TimelineItem is one timeline entry.
type TimelineItem struct {
	timeline   *Timeline
	index      int
	name       string
	target     cad.Entity
	suppressed bool
}

func (i *TimelineItem) ObjectType() string { return "TimelineObject" }
func (i *TimelineItem) Index() int         { return i.index }
func (i *TimelineItem) Name() string       { return i.name }
func (i *TimelineItem) IsSuppressed() bool { return i.suppressed }
func (i *TimelineItem) IsRolledBack() bool { return i.index >= i.timeline.marker }
func (i *TimelineItem) Target() cad.Entity { return i.target }

// SetIsSuppressed toggles suppression of the item.
func (i *TimelineItem) SetIsSuppressed(v bool) error {
	i.suppressed = v
	return nil
}
