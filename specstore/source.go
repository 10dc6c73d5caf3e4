package specstore

import "time"

// DataSource is the provenance of the values currently held by a Store.
type DataSource int

const (
	SourceUninitialized DataSource = iota
	SourceLoading
	SourceNoValues
	SourceBootstrap
	SourceCache
	SourceNetwork
	SourceNetworkNotModified
)

var sourceNames = map[DataSource]string{
	SourceUninitialized:      "Uninitialized",
	SourceLoading:            "Loading",
	SourceNoValues:           "NoValues",
	SourceBootstrap:          "Bootstrap",
	SourceCache:              "Cache",
	SourceNetwork:            "Network",
	SourceNetworkNotModified: "NetworkNotModified",
}

func (s DataSource) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseDataSource is the inverse of DataSource.String. Unknown names give SourceUninitialized.
func ParseDataSource(name string) DataSource {
	for src, n := range sourceNames {
		if n == name {
			return src
		}
	}
	return SourceUninitialized
}

// HasValues reports whether a store in this state serves real values.
func (s DataSource) HasValues() bool {
	return s >= SourceBootstrap
}

// AdapterResult is a raw payload together with where and when it was obtained.
type AdapterResult struct {
	Data       string
	Source     DataSource
	ReceivedAt time.Time
	// UnitHash is the fingerprint of the unit the payload was computed for.
	// Empty for rule set payloads.
	UnitHash string
}

// Details explains where an evaluation's values came from.
type Details struct {
	Reason     string    `json:"reason"`
	LCUT       int64     `json:"lcut,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}
