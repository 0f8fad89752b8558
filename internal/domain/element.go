package domain

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ElementType string

const (
	ElementPath       ElementType = "path"
	ElementText       ElementType = "text"
	ElementStickyNote ElementType = "sticky-note"
	ElementShape      ElementType = "shape"
	ElementImage      ElementType = "image"
)

// Valid reports whether t is one of the known element types.
func (t ElementType) Valid() bool {
	switch t {
	case ElementPath, ElementText, ElementStickyNote, ElementShape, ElementImage:
		return true
	default:
		return false
	}
}

// Mergeable field names. Style attributes are tracked per key as "style.<key>".
const (
	FieldPosition    = "position"
	FieldSize        = "size"
	FieldData        = "data"
	fieldStylePrefix = "style."
)

// StyleField returns the field name for a single style attribute.
func StyleField(key string) string { return fieldStylePrefix + key }

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is optional on elements. A zero Size in a patch clears it.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// Element is a single drawable object owned by a board.
//
// Version starts at 1 and grows by exactly one per accepted mutation, including
// the deleting one. FieldVersions records the version that last wrote each
// field; fields absent from the map were last written at BaseVersion (the
// create or restore that produced the current content).
type Element struct {
	ID            uuid.UUID         `json:"id"`
	BoardID       uuid.UUID         `json:"board_id"`
	Type          ElementType       `json:"type"`
	Data          json.RawMessage   `json:"data"`
	Position      Point             `json:"position"`
	Size          *Size             `json:"size,omitempty"`
	Style         map[string]string `json:"style,omitempty"`
	CreatorID     uuid.UUID         `json:"creator_id"`
	Version       int64             `json:"version"`
	BaseVersion   int64             `json:"base_version"`
	FieldVersions map[string]int64  `json:"field_versions,omitempty"`
	Deleted       bool              `json:"deleted,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = slices.Clone(e.Data)
	if e.Size != nil {
		s := *e.Size
		c.Size = &s
	}
	c.Style = maps.Clone(e.Style)
	c.FieldVersions = maps.Clone(e.FieldVersions)
	return &c
}

// FieldVersion returns the version that last wrote field.
func (e *Element) FieldVersion(field string) int64 {
	if v, ok := e.FieldVersions[field]; ok {
		return v
	}
	return e.BaseVersion
}

// ChangedSince returns the subset of fields written after version.
func (e *Element) ChangedSince(version int64, fields []string) []string {
	var changed []string
	for _, f := range fields {
		if e.FieldVersion(f) > version {
			changed = append(changed, f)
		}
	}
	return changed
}

// Apply writes the patch onto e and stamps every touched field with version.
func (e *Element) Apply(p ElementPatch, version int64, at time.Time) {
	if p.Position != nil {
		e.Position = *p.Position
	}
	if p.Size != nil {
		if p.Size.IsZero() {
			e.Size = nil
		} else {
			s := *p.Size
			e.Size = &s
		}
	}
	if p.Data != nil {
		e.Data = slices.Clone(p.Data)
	}
	for k, v := range p.Style {
		if v == "" {
			delete(e.Style, k)
			continue
		}
		if e.Style == nil {
			e.Style = make(map[string]string)
		}
		e.Style[k] = v
	}

	if e.FieldVersions == nil {
		e.FieldVersions = make(map[string]int64)
	}
	for _, f := range p.Fields() {
		e.FieldVersions[f] = version
	}
	e.Version = version
	e.UpdatedAt = at
}

// SameContent compares everything a user can see: type, payload, geometry and
// style. Versions and timestamps are ignored.
func (e *Element) SameContent(o *Element) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.ID != o.ID || e.Type != o.Type || e.Position != o.Position || e.Deleted != o.Deleted {
		return false
	}
	if (e.Size == nil) != (o.Size == nil) || (e.Size != nil && *e.Size != *o.Size) {
		return false
	}
	if !maps.Equal(e.Style, o.Style) {
		return false
	}
	return bytes.Equal(e.Data, o.Data)
}

// Matches reports whether e holds o's values for every listed field.
func (e *Element) Matches(o *Element, fields []string) bool {
	probe := e.Clone()
	probe.Apply(PatchFrom(o, fields), e.Version, e.UpdatedAt)
	return probe.SameContent(e)
}

// ElementPatch is a partial update. Nil members are untouched; a Style value of
// "" removes that attribute.
type ElementPatch struct {
	Position *Point            `json:"position,omitempty"`
	Size     *Size             `json:"size,omitempty"`
	Style    map[string]string `json:"style,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
}

// Fields lists the field names the patch writes, sorted.
func (p ElementPatch) Fields() []string {
	var fields []string
	if p.Position != nil {
		fields = append(fields, FieldPosition)
	}
	if p.Size != nil {
		fields = append(fields, FieldSize)
	}
	if p.Data != nil {
		fields = append(fields, FieldData)
	}
	for k := range p.Style {
		fields = append(fields, StyleField(k))
	}
	slices.Sort(fields)
	return fields
}

func (p ElementPatch) IsEmpty() bool { return len(p.Fields()) == 0 }

// PatchFrom builds the patch that would set fields back to their values on e.
func PatchFrom(e *Element, fields []string) ElementPatch {
	var p ElementPatch
	for _, f := range fields {
		switch {
		case f == FieldPosition:
			pos := e.Position
			p.Position = &pos
		case f == FieldSize:
			s := Size{}
			if e.Size != nil {
				s = *e.Size
			}
			p.Size = &s
		case f == FieldData:
			p.Data = slices.Clone(e.Data)
			if p.Data == nil {
				p.Data = json.RawMessage("{}")
			}
		case strings.HasPrefix(f, fieldStylePrefix):
			if p.Style == nil {
				p.Style = make(map[string]string)
			}
			key := strings.TrimPrefix(f, fieldStylePrefix)
			p.Style[key] = e.Style[key]
		}
	}
	return p
}
