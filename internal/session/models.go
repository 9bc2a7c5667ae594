package session

import (
	"encoding/json"

	pkgerrors "playgate/pkg/domain-errors"
)

// ManagedBy classifies who controls enabling a permission. It is a closed
// enum: a value outside the known set fails the decode rather than being
// silently ignored, because a wrong guess here can enable a
// guardian-managed feature without consent.
type ManagedBy string

const (
	ManagedByPlayer     ManagedBy = "PLAYER"
	ManagedByGuardian   ManagedBy = "GUARDIAN"
	ManagedByProhibited ManagedBy = "PROHIBITED"
)

func (m *ManagedBy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch ManagedBy(s) {
	case ManagedByPlayer, ManagedByGuardian, ManagedByProhibited:
		*m = ManagedBy(s)
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeUnknownValue, "unrecognized managedBy value %q", s)
}

// Permission is one feature gate within a session. Names are unique within
// a session; order is server-assigned and carries no meaning.
type Permission struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	ManagedBy ManagedBy `json:"managedBy"`
}

// Info is the cached session record. An empty SessionID means "default
// permissions, no real session" (the jurisdiction required no age gate).
type Info struct {
	SessionID   string       `json:"sessionId,omitempty"`
	ETag        string       `json:"etag,omitempty"`
	AgeStatus   string       `json:"ageStatus,omitempty"`
	DateOfBirth string       `json:"dateOfBirth,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// FindPermission scans for a permission by name. The list is small; a
// linear scan is deliberate.
func (i *Info) FindPermission(name string) *Permission {
	if i == nil {
		return nil
	}
	for idx := range i.Permissions {
		if i.Permissions[idx].Name == name {
			return &i.Permissions[idx]
		}
	}
	return nil
}

// Decode deserializes a session blob. Callers treat any error as "no saved
// session".
func Decode(blob []byte) (*Info, error) {
	var info Info
	if err := json.Unmarshal(blob, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// AccessMode is the tri-state feature gate derived from the latest session
// and consent outcome. It is held in memory only and recomputed on every
// run.
type AccessMode int

const (
	// AccessNone disables play entirely: a mandatory check failed.
	AccessNone AccessMode = iota
	// AccessDataLite is the minimal-data mode used before consent exists
	// or after it was denied.
	AccessDataLite
	// AccessFull makes all permitted features available.
	AccessFull
)

func (m AccessMode) String() string {
	switch m {
	case AccessNone:
		return "None"
	case AccessDataLite:
		return "Data Lite"
	case AccessFull:
		return "Full"
	}
	return "unknown"
}
