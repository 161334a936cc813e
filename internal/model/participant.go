package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParticipantType is the closed set of things that can take part in an event.
type ParticipantType uint8

const (
	ParticipantUser ParticipantType = iota + 1
	ParticipantChild
)

func ParseParticipantType(s string) (ParticipantType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return ParticipantUser, nil
	case "child":
		return ParticipantChild, nil
	}
	return 0, fmt.Errorf("unknown participant type %q", s)
}

func (t ParticipantType) String() string {
	switch t {
	case ParticipantUser:
		return "user"
	case ParticipantChild:
		return "child"
	}
	return "unknown"
}

func (t ParticipantType) Valid() bool {
	return t == ParticipantUser || t == ParticipantChild
}

func (t ParticipantType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid participant type %d", t)
	}
	return []byte(t.String()), nil
}

func (t *ParticipantType) UnmarshalText(b []byte) error {
	parsed, err := ParseParticipantType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParticipantRef identifies a family member (user) or a child attached to an event.
type ParticipantRef struct {
	ID   int64           `json:"id"`
	Type ParticipantType `json:"type"`
}

func UserRef(id int64) ParticipantRef  { return ParticipantRef{ID: id, Type: ParticipantUser} }
func ChildRef(id int64) ParticipantRef { return ParticipantRef{ID: id, Type: ParticipantChild} }

// String renders the reference as "type:id", the form accepted by ParseParticipantRef.
func (p ParticipantRef) String() string {
	return p.Type.String() + ":" + strconv.FormatInt(p.ID, 10)
}

// ParseParticipantRef parses "user:12" or "child:3".
func ParseParticipantRef(s string) (ParticipantRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return ParticipantRef{}, fmt.Errorf("participant %q must be type:id", s)
	}
	t, err := ParseParticipantType(kind)
	if err != nil {
		return ParticipantRef{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 1 {
		return ParticipantRef{}, fmt.Errorf("participant %q has invalid id", s)
	}
	return ParticipantRef{ID: n, Type: t}, nil
}

// ShareParticipant reports whether a and b have at least one reference in common.
func ShareParticipant(a, b []ParticipantRef) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[ParticipantRef]struct{}, len(a))
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}
