// Package unit describes the entity (user or device) that flags are evaluated for.
package unit

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// IDTypeUserID is the default id type used by specs that do not declare one.
const IDTypeUserID = "userID"

// IDTypeStableID identifies a device-scoped id generated and persisted by the client.
const IDTypeStableID = "stableID"

// Unit is the entity being evaluated.
//
// The zero value is a valid anonymous unit.
type Unit struct {
	UserID            string            `json:"userID,omitempty"`
	CustomIDs         map[string]string `json:"customIDs,omitempty"`
	Email             string            `json:"email,omitempty"`
	IP                string            `json:"ip,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	Country           string            `json:"country,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	AppVersion        string            `json:"appVersion,omitempty"`
	Custom            map[string]any    `json:"custom,omitempty"`
	PrivateAttributes map[string]any    `json:"privateAttributes,omitempty"`
	Environment       map[string]string `json:"statsigEnvironment,omitempty"`
}

// UnitID returns the identifier for the given id type, or "" when the unit has none.
func (u *Unit) UnitID(idType string) string {
	if u == nil {
		return ""
	}
	if idType == "" || strings.EqualFold(idType, IDTypeUserID) {
		return u.UserID
	}
	if v, ok := u.CustomIDs[idType]; ok {
		return v
	}
	for k, v := range u.CustomIDs {
		if strings.EqualFold(k, idType) {
			return v
		}
	}
	return ""
}

// Tier returns the environment tier ("production", "staging", ...) of the unit.
func (u *Unit) Tier() string {
	if u == nil || u.Environment == nil {
		return ""
	}
	return u.Environment["tier"]
}

// Field looks up a user field by name. Top level fields win over custom and private attributes.
func (u *Unit) Field(name string) (any, bool) {
	if u == nil {
		return nil, false
	}
	switch strings.ToLower(name) {
	case "userid", "user_id":
		return nonEmpty(u.UserID)
	case "email":
		return nonEmpty(u.Email)
	case "ip", "ipaddress", "ip_address":
		return nonEmpty(u.IP)
	case "useragent", "user_agent":
		return nonEmpty(u.UserAgent)
	case "country":
		return nonEmpty(u.Country)
	case "locale":
		return nonEmpty(u.Locale)
	case "appversion", "app_version":
		return nonEmpty(u.AppVersion)
	}
	if v, ok := lookupFold(u.Custom, name); ok {
		return v, true
	}
	return lookupFold(u.PrivateAttributes, name)
}

// WithCustomID returns a copy of the unit with idType set to id.
func (u Unit) WithCustomID(idType, id string) Unit {
	ids := make(map[string]string, len(u.CustomIDs)+1)
	maps.Copy(ids, u.CustomIDs)
	ids[idType] = id
	u.CustomIDs = ids
	return u
}

// ForLogging returns a copy of the unit without private attributes.
func (u Unit) ForLogging() Unit {
	u.PrivateAttributes = nil
	return u
}

// Fingerprint is a stable digest of the unit's identity and attributes.
// Two units with equal content always produce the same fingerprint.
func (u *Unit) Fingerprint() string {
	if u == nil {
		return "0"
	}
	return fingerprint(u.canonical())
}

// IdentityFingerprint covers the identifiers only; attribute changes keep the same value.
func (u *Unit) IdentityFingerprint() string {
	if u == nil {
		return "0"
	}
	keys := maps.Keys(u.CustomIDs)
	slices.Sort(keys)
	var b strings.Builder
	b.WriteString("userID:")
	b.WriteString(u.UserID)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString(":")
		b.WriteString(u.CustomIDs[k])
	}
	return fingerprint(b.String())
}

func (u *Unit) canonical() string {
	// encoding/json sorts map keys, which keeps the output stable.
	b, err := json.Marshal(u)
	if err != nil {
		return u.UserID
	}
	return string(b)
}

func fingerprint(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 36)
}

func nonEmpty(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

func lookupFold(m map[string]any, name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
