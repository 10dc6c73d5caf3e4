package flagkit

import (
	"github.com/flagkit/flagkit-go-client/storage"
	"github.com/flagkit/flagkit-go-client/unit"
)

// keyFingerprint is a loggable stand-in for an SDK key.
func keyFingerprint(sdkKey string) string {
	return storage.Fingerprint(sdkKey)
}

func cloneUnit(u unit.Unit) unit.Unit {
	if u.CustomIDs != nil {
		ids := make(map[string]string, len(u.CustomIDs))
		for k, v := range u.CustomIDs {
			ids[k] = v
		}
		u.CustomIDs = ids
	}
	if u.Environment != nil {
		env := make(map[string]string, len(u.Environment))
		for k, v := range u.Environment {
			env[k] = v
		}
		u.Environment = env
	}
	return u
}
