// Package model contains the domain values shared by the matching engine,
// the lifecycle transitions and the adapters.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ClassTag is a character-class family. The zero value means "no class".
type ClassTag uint8

// Class families a slot rule can admit.
const (
	ClassNone ClassTag = iota
	ClassTank
	ClassHealer
	ClassMelee
	ClassRanged
	ClassCaster
	ClassSupport

	classCount
)

var classNames = [...]string{
	ClassNone:    "",
	ClassTank:    "tank",
	ClassHealer:  "healer",
	ClassMelee:   "melee",
	ClassRanged:  "ranged",
	ClassCaster:  "caster",
	ClassSupport: "support",
}

// AllClasses lists every valid class family in declaration order.
func AllClasses() []ClassTag {
	out := make([]ClassTag, 0, classCount-1)
	for c := ClassTank; c < classCount; c++ {
		out = append(out, c)
	}
	return out
}

// ParseClassTag resolves a class name (case-insensitive). An empty name
// yields ClassNone; an unknown name is an ErrInvalidRule.
func ParseClassTag(name string) (ClassTag, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ClassNone, nil
	}
	for c := ClassTank; c < classCount; c++ {
		if classNames[c] == n {
			return c, nil
		}
	}
	return ClassNone, Errorf("model.parse_class", ErrInvalidRule, "unknown class %q", name)
}

// Valid reports whether c is a known class family.
func (c ClassTag) Valid() bool { return c > ClassNone && c < classCount }

func (c ClassTag) String() string {
	if c < classCount {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c ClassTag) MarshalText() ([]byte, error) {
	if c != ClassNone && !c.Valid() {
		return nil, Errorf("model.marshal_class", ErrInvalidRule, "unknown class %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClassTag) UnmarshalText(b []byte) error {
	v, err := ParseClassTag(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ClassSet is an immutable set of class families.
type ClassSet uint16

// NewClassSet builds a set from tags. ClassNone or unknown tags are rejected.
func NewClassSet(tags ...ClassTag) (ClassSet, error) {
	var s ClassSet
	for _, t := range tags {
		if !t.Valid() {
			return 0, Errorf("model.class_set", ErrInvalidRule, "unknown class %d", uint8(t))
		}
		s |= 1 << t
	}
	return s, nil
}

// ParseClassSet builds a set from class names.
func ParseClassSet(names ...string) (ClassSet, error) {
	var s ClassSet
	for _, n := range names {
		t, err := ParseClassTag(n)
		if err != nil {
			return 0, err
		}
		if t == ClassNone {
			return 0, Errorf("model.class_set", ErrInvalidRule, "empty class name")
		}
		s |= 1 << t
	}
	return s, nil
}

// Has reports whether t is in the set.
func (s ClassSet) Has(t ClassTag) bool { return t.Valid() && s&(1<<t) != 0 }

// Empty reports whether the set admits no class.
func (s ClassSet) Empty() bool { return s == 0 }

// Tags returns the members in declaration order.
func (s ClassSet) Tags() []ClassTag {
	var out []ClassTag
	for c := ClassTank; c < classCount; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the member names sorted alphabetically.
func (s ClassSet) Names() []string {
	tags := s.Tags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted list of class names.
func (s ClassSet) MarshalJSON() ([]byte, error) {
	names := s.Names()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes a list of class names.
func (s *ClassSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return Errorf("model.class_set", ErrInvalidRule, "classes must be a list of names: %v", err)
	}
	v, err := ParseClassSet(names...)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
