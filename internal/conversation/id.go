// Package conversation encodes and decodes conversation identifiers.
//
// A private conversation is identified by "private_<talent>-<promoter>" and a
// group conversation by "group_<event>", where every segment is a canonical
// 36-character UUID. Parse is the only decoder and rejects anything else.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPrivate Kind = "private"
	KindGroup   Kind = "group"
)

const (
	privatePrefix = "private_"
	groupPrefix   = "group_"
	uuidLen       = 36
)

var (
	ErrMalformedID = errors.New("conversation: malformed id")
	ErrNotPrivate  = errors.New("conversation: not a private conversation")
	ErrNotGroup    = errors.New("conversation: not a group conversation")
)

// ID is either a private (talent, promoter) pair or a group bound to an event.
// The zero value is invalid.
type ID struct {
	kind       Kind
	talentID   uuid.UUID
	promoterID uuid.UUID
	eventID    uuid.UUID
}

func Private(talentID, promoterID uuid.UUID) ID {
	return ID{kind: KindPrivate, talentID: talentID, promoterID: promoterID}
}

func Group(eventID uuid.UUID) ID {
	return ID{kind: KindGroup, eventID: eventID}
}

func (id ID) Kind() Kind            { return id.kind }
func (id ID) IsZero() bool          { return id.kind == "" }
func (id ID) TalentID() uuid.UUID   { return id.talentID }
func (id ID) PromoterID() uuid.UUID { return id.promoterID }
func (id ID) EventID() uuid.UUID    { return id.eventID }

func (id ID) String() string {
	switch id.kind {
	case KindPrivate:
		return privatePrefix + id.talentID.String() + "-" + id.promoterID.String()
	case KindGroup:
		return groupPrefix + id.eventID.String()
	default:
		return ""
	}
}

// Participants returns the two parties of a private conversation. Group
// membership lives in the participant registry, so it returns nil for groups.
func (id ID) Participants() []uuid.UUID {
	if id.kind != KindPrivate {
		return nil
	}
	return []uuid.UUID{id.talentID, id.promoterID}
}

// Has reports whether userID is one of the parties encoded in a private id.
func (id ID) Has(userID uuid.UUID) bool {
	return id.kind == KindPrivate && (id.talentID == userID || id.promoterID == userID)
}

// Other returns the party of a private conversation that is not userID.
func (id ID) Other(userID uuid.UUID) (uuid.UUID, bool) {
	switch {
	case !id.Has(userID):
		return uuid.Nil, false
	case id.talentID == userID:
		return id.promoterID, true
	default:
		return id.talentID, true
	}
}

func Parse(s string) (ID, error) {
	switch {
	case strings.HasPrefix(s, privatePrefix):
		body := s[len(privatePrefix):]
		if len(body) != 2*uuidLen+1 || body[uuidLen] != '-' {
			return ID{}, fmt.Errorf("%w: %q: private id must be two %d-character UUIDs joined by '-'", ErrMalformedID, s, uuidLen)
		}
		talent, err := parseSegment(s, body[:uuidLen])
		if err != nil {
			return ID{}, err
		}
		promoter, err := parseSegment(s, body[uuidLen+1:])
		if err != nil {
			return ID{}, err
		}
		if talent == promoter {
			return ID{}, fmt.Errorf("%w: %q: talent and promoter must differ", ErrMalformedID, s)
		}
		return Private(talent, promoter), nil

	case strings.HasPrefix(s, groupPrefix):
		event, err := parseSegment(s, s[len(groupPrefix):])
		if err != nil {
			return ID{}, err
		}
		return Group(event), nil

	default:
		return ID{}, fmt.Errorf("%w: %q: unknown prefix", ErrMalformedID, s)
	}
}

// DecodePrivate returns the talent and promoter ids of a private conversation id.
func DecodePrivate(s string) (talentID, promoterID uuid.UUID, err error) {
	id, err := Parse(s)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if id.kind != KindPrivate {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %q", ErrNotPrivate, s)
	}
	return id.talentID, id.promoterID, nil
}

// DecodeGroup returns the event id of a group conversation id.
func DecodeGroup(s string) (uuid.UUID, error) {
	id, err := Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	if id.kind != KindGroup {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrNotGroup, s)
	}
	return id.eventID, nil
}

// parseSegment only accepts the canonical hyphenated form; uuid.Parse alone
// would also take urn: and braced variants of other lengths.
func parseSegment(full, seg string) (uuid.UUID, error) {
	if len(seg) != uuidLen {
		return uuid.Nil, fmt.Errorf("%w: %q: segment %q is not %d characters", ErrMalformedID, full, seg, uuidLen)
	}
	u, err := uuid.Parse(seg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q: %v", ErrMalformedID, full, err)
	}
	return u, nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
