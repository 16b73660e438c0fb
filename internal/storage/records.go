package storage

import "time"

// RecordState tracks the soft-delete lifecycle of a cached record.
// Only StateNormal rows are hydrated back into the cache on startup;
// StateDeleted rows stay on disk until a StateDeleteFromDB sweep
// removes them.
type RecordState int

const (
	StateNormal RecordState = iota
	StateDeleted
	StateDeleteFromDB
)

func (s RecordState) String() string {
	switch s {
	case StateDeleted:
		return "deleted"
	case StateDeleteFromDB:
		return "deletedfromdb"
	default:
		return "normal"
	}
}

func recordStateFromString(s string) RecordState {
	switch s {
	case "deleted":
		return StateDeleted
	case "deletedfromdb":
		return StateDeleteFromDB
	default:
		return StateNormal
	}
}

// Device is a physical radio endpoint keyed by its extended MAC address.
type Device struct {
	ID        int64
	MAC       uint64
	NWK       uint16
	CreatedAt time.Time

	ManufacturerName string
	ModelID          string

	NeedSave bool
}

// SubDevice is an endpoint scoped logical unit of a device.
type SubDevice struct {
	ID        int64
	DeviceID  int64
	UniqueID  string
	CreatedAt time.Time

	Items map[string]*ResourceItem

	NeedSave bool
}

// ResourceItem is a typed named attribute attached to a device or
// sub-device. Values are persisted as opaque strings.
type ResourceItem struct {
	Suffix     string
	Value      string
	Source     string
	LastSet    time.Time
	StoreDelay time.Duration // overrides the computed write-absorb window when positive

	NeedSave bool
}

// LightNode mirrors one row of the legacy nodes table. The JSON column
// is opaque to the persistence core and must round-trip byte exact.
type LightNode struct {
	ID               string
	State            RecordState
	MAC              string
	Name             string
	GroupsJSON       string
	Endpoint         string
	ModelID          string
	ManufacturerName string
	SWBuildID        string
	JSON             string

	NeedSave bool
}

// Sensor mirrors one row of the legacy sensors table. StateJSON and
// ConfigJSON carry opaque payloads owned by external collaborators.
type Sensor struct {
	SID              string
	Name             string
	Type             string
	StateJSON        string
	ConfigJSON       string
	Fingerprint      string
	DeletedState     RecordState
	Mode             string
	UniqueID         string
	ManufacturerName string
	ModelID          string
	SWVersion        string
	LastSeen         string
	LastAnnounced    string

	// Endpoint and cluster recovered from UniqueID during hydration.
	Endpoint uint8
	Cluster  uint16

	// HandledByDDF marks rows whose ownership moved to the DDF subsystem.
	HandledByDDF bool

	NeedSave bool
}

// Group is a legacy JSON-in-column group row.
type Group struct {
	GID              string
	Name             string
	State            RecordState
	JSON             string
	Hidden           string
	LightSequence    string
	DeviceMembership string

	NeedSave bool
}

// Scene belongs to exactly one group; its key is "<gid>-<sid>".
type Scene struct {
	GID            string
	SID            string
	Name           string
	TransitionTime string
	LightsJSON     string

	NeedSave bool
	Deleted  bool
}

// Rule is a legacy JSON-in-column rule row.
type Rule struct {
	RID            string
	Name           string
	Created        string
	ETag           string
	LastTriggered  string
	Owner          string
	Status         string
	TimesTriggered string
	Actions        string
	Conditions     string
	Periodic       int
	State          RecordState

	NeedSave bool
}

// Schedule is a legacy JSON-in-column schedule row.
type Schedule struct {
	ID         string
	JSON       string
	Status     string
	Activation string
	State      RecordState

	NeedSave bool
}

// Resourcelink is a legacy JSON-in-column resourcelink row.
type Resourcelink struct {
	ID    string
	JSON  string
	State RecordState

	NeedSave bool
}

// GatewayLink describes a paired remote gateway.
type GatewayLink struct {
	UUID        string
	Name        string
	IP          string
	Port        int
	Pairing     bool
	APIKey      string
	CGroupsJSON string
	State       RecordState

	NeedSave bool
}

// AuthToken is one API key grant. Created never exceeds LastUsed.
type AuthToken struct {
	APIKey     string
	DeviceType string
	CreateDate time.Time
	LastUsed   time.Time
	UserAgent  string
	State      RecordState

	NeedSave bool
}

// SourceRoute is an ordered chain of device hops toward a destination.
// The destination device is the final hop; valid routes carry at least
// two hops.
type SourceRoute struct {
	UUID      string
	DestMAC   uint64
	Order     int
	HopMACs   []uint64
	CreatedAt time.Time

	NeedSave bool
}

// AlarmSystem groups per-item resource values and device memberships.
type AlarmSystem struct {
	ID        int64
	CreatedAt time.Time
	Items     map[string]*ResourceItem
	Devices   map[string]AlarmSystemDevice

	NeedSave bool
}

// AlarmSystemDevice is one device membership of an alarm system.
type AlarmSystemDevice struct {
	UniqueID  string
	Flags     uint32
	CreatedAt time.Time
}

// Secret is a stored credential, replaced wholesale on write.
type Secret struct {
	UniqueID string
	Secret   string
	State    int

	NeedSave bool
}
