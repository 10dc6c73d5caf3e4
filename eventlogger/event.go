package eventlogger

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
	"github.com/flagkit/flagkit-go-client/specstore"
	"github.com/flagkit/flagkit-go-client/unit"
)

// Internal event names.
const (
	GateExposureEvent     = "flagkit::gate_exposure"
	ConfigExposureEvent   = "flagkit::config_exposure"
	LayerExposureEvent    = "flagkit::layer_exposure"
	NonExposedChecksEvent = "flagkit::non_exposed_checks"
	DiagnosticsEvent      = "flagkit::diagnostics"
)

// Event is a single telemetry record.
type Event struct {
	EventName          string                    `json:"eventName"`
	User               *unit.Unit                `json:"user,omitempty"`
	Value              any                       `json:"value,omitempty"`
	Metadata           map[string]string         `json:"metadata,omitempty"`
	SecondaryExposures []specs.SecondaryExposure `json:"secondaryExposures,omitempty"`
	Time               int64                     `json:"time"`
}

// IsExposure reports whether the event records an evaluation.
func (e Event) IsExposure() bool {
	switch e.EventName {
	case GateExposureEvent, ConfigExposureEvent, LayerExposureEvent:
		return true
	}
	return false
}

func loggableUnit(u *unit.Unit) *unit.Unit {
	if u == nil {
		return nil
	}
	cp := u.ForLogging()
	return &cp
}

func detailsMetadata(m map[string]string, details specstore.Details) map[string]string {
	m["reason"] = details.Reason
	if details.LCUT != 0 {
		m["lcut"] = strconv.FormatInt(details.LCUT, 10)
	}
	if !details.ReceivedAt.IsZero() {
		m["receivedAt"] = strconv.FormatInt(details.ReceivedAt.UnixMilli(), 10)
	}
	return m
}

func nonNilExposures(e []specs.SecondaryExposure) []specs.SecondaryExposure {
	if e == nil {
		return []specs.SecondaryExposure{}
	}
	return e
}

// GateExposure records that u saw gate name.
func GateExposure(u *unit.Unit, name string, value bool, ruleID string, exposures []specs.SecondaryExposure, details specstore.Details) Event {
	return Event{
		EventName: GateExposureEvent,
		User:      loggableUnit(u),
		Metadata: detailsMetadata(map[string]string{
			"gate":      name,
			"gateValue": strconv.FormatBool(value),
			"ruleID":    ruleID,
		}, details),
		SecondaryExposures: nonNilExposures(exposures),
		Time:               time.Now().UnixMilli(),
	}
}

// ConfigExposure records that u saw a dynamic config or experiment.
func ConfigExposure(u *unit.Unit, name, ruleID string, exposures []specs.SecondaryExposure, details specstore.Details) Event {
	return Event{
		EventName: ConfigExposureEvent,
		User:      loggableUnit(u),
		Metadata: detailsMetadata(map[string]string{
			"config": name,
			"ruleID": ruleID,
		}, details),
		SecondaryExposures: nonNilExposures(exposures),
		Time:               time.Now().UnixMilli(),
	}
}

// LayerExposure records that u read parameter param of layer name.
func LayerExposure(u *unit.Unit, name, ruleID, allocatedExperiment, param string, isExplicit bool, exposures []specs.SecondaryExposure, details specstore.Details) Event {
	return Event{
		EventName: LayerExposureEvent,
		User:      loggableUnit(u),
		Metadata: detailsMetadata(map[string]string{
			"config":              name,
			"ruleID":              ruleID,
			"allocatedExperiment": allocatedExperiment,
			"parameterName":       param,
			"isExplicitParameter": strconv.FormatBool(isExplicit),
		}, details),
		SecondaryExposures: nonNilExposures(exposures),
		Time:               time.Now().UnixMilli(),
	}
}

// CustomEvent is an application defined event.
func CustomEvent(u *unit.Unit, name string, value any, metadata map[string]string) Event {
	return Event{
		EventName: name,
		User:      loggableUnit(u),
		Value:     value,
		Metadata:  metadata,
		Time:      time.Now().UnixMilli(),
	}
}

// NonExposedChecks reports how often specs were read without logging an exposure.
func NonExposedChecks(checks map[string]int) Event {
	b, _ := json.Marshal(checks)
	return Event{
		EventName: NonExposedChecksEvent,
		Metadata:  map[string]string{"checks": string(b)},
		Time:      time.Now().UnixMilli(),
	}
}

// Diagnostics carries SDK timing and error markers.
func Diagnostics(u *unit.Unit, context string, markers map[string]string) Event {
	meta := map[string]string{"context": context}
	for k, v := range markers {
		meta[k] = v
	}
	return Event{EventName: DiagnosticsEvent, User: loggableUnit(u), Metadata: meta, Time: time.Now().UnixMilli()}
}
