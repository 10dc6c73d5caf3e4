package fixtures

import (
	"fmt"
	"io"
	"net/http"
)

const SDKKey = "client-test-key"
const ServerSDKKey = "secret-test-key"
const LCUT int64 = 1700000000000
const UserID = "u1"

const GateName = "a_gate"
const ConfigName = "a_config"
const ExperimentName = "an_experiment"
const LayerName = "a_layer"
const ParamStoreName = "a_param_store"

// SpecsJSON is a download_config_specs payload covering every spec kind.
var SpecsJSON = SpecsJSONAt(LCUT)

// InitializeJSON is the precomputed counterpart of SpecsJSON for UserID, with djb2 hashed names.
var InitializeJSON = InitializeJSONAt(LCUT)

// SpecsJSONAt returns SpecsJSON stamped with lcut.
func SpecsJSONAt(lcut int64) string {
	return fmt.Sprintf(specsTemplate, lcut)
}

// InitializeJSONAt returns InitializeJSON stamped with lcut.
func InitializeJSONAt(lcut int64) string {
	return fmt.Sprintf(initializeTemplate, lcut)
}

const specsTemplate = `
{
	"feature_gates": [{
		"name": "a_gate",
		"type": "feature_gate",
		"salt": "a_gate_salt",
		"idType": "userID",
		"enabled": true,
		"defaultValue": false,
		"rules": [{
			"name": "everyone",
			"id": "R1",
			"salt": "R1",
			"passPercentage": 100,
			"conditions": [{"type": "public", "targetValue": null, "idType": "userID"}],
			"returnValue": true,
			"idType": "userID"
		}]
	}, {
		"name": "off_gate",
		"type": "feature_gate",
		"salt": "off_gate_salt",
		"idType": "userID",
		"enabled": false,
		"defaultValue": false,
		"rules": []
	}, {
		"name": "employee_gate",
		"type": "feature_gate",
		"salt": "employee_gate_salt",
		"idType": "userID",
		"enabled": true,
		"defaultValue": false,
		"rules": [{
			"name": "employees",
			"id": "employees",
			"salt": "employees",
			"passPercentage": 100,
			"conditions": [{
				"type": "user_field",
				"field": "email",
				"operator": "str_ends_with_any",
				"targetValue": ["@example.com"],
				"idType": "userID"
			}],
			"returnValue": true,
			"idType": "userID"
		}]
	}],
	"dynamic_configs": [{
		"name": "a_config",
		"type": "dynamic_config",
		"salt": "a_config_salt",
		"idType": "userID",
		"enabled": true,
		"defaultValue": {"color": "grey"},
		"rules": [{
			"name": "everyone",
			"id": "everyone",
			"salt": "everyone",
			"passPercentage": 100,
			"conditions": [{"type": "public", "targetValue": null, "idType": "userID"}],
			"returnValue": {"color": "blue", "size": 3},
			"idType": "userID"
		}]
	}, {
		"name": "an_experiment",
		"type": "dynamic_config",
		"entity": "experiment",
		"salt": "an_experiment_salt",
		"idType": "userID",
		"enabled": true,
		"isActive": true,
		"explicitParameters": ["button"],
		"defaultValue": {"button": "grey", "title": "experiment default"},
		"rules": [{
			"name": "treatment",
			"id": "treatment",
			"salt": "treatment",
			"groupName": "Treatment",
			"isExperimentGroup": true,
			"passPercentage": 100,
			"conditions": [{"type": "public", "targetValue": null, "idType": "userID"}],
			"returnValue": {"button": "green", "title": "experiment title"},
			"idType": "userID"
		}]
	}],
	"layer_configs": [{
		"name": "a_layer",
		"type": "layer",
		"salt": "a_layer_salt",
		"idType": "userID",
		"enabled": true,
		"defaultValue": {"button": "blue", "title": "layer title"},
		"rules": [{
			"name": "allocation",
			"id": "allocation",
			"salt": "allocation",
			"passPercentage": 100,
			"configDelegate": "an_experiment",
			"conditions": [{"type": "public", "targetValue": null, "idType": "userID"}],
			"idType": "userID"
		}]
	}],
	"param_stores": {
		"a_param_store": {
			"parameters": {
				"button_color": {"ref_type": "layer", "param_type": "string", "layer_name": "a_layer", "param_name": "button"},
				"max_items": {"ref_type": "static", "param_type": "number", "value": 10},
				"banner": {"ref_type": "gate", "param_type": "string", "gate_name": "a_gate", "pass_value": "on", "fail_value": "off"}
			}
		}
	},
	"id_lists": {"beta_users": ["u4IDDbwr"]},
	"time": %d,
	"has_updates": true
}
`

const initializeTemplate = `
{
	"feature_gates": {
		"2867927529": {"name": "2867927529", "value": true, "rule_id": "R1", "id_type": "userID", "secondary_exposures": []}
	},
	"dynamic_configs": {
		"2902556896": {"name": "2902556896", "value": {"color": "blue", "size": 3}, "rule_id": "everyone", "id_type": "userID"},
		"3921852239": {
			"name": "3921852239",
			"value": {"button": "green", "title": "experiment title"},
			"rule_id": "treatment",
			"group_name": "Treatment",
			"id_type": "userID",
			"is_experiment_active": true,
			"is_user_in_experiment": true,
			"explicit_parameters": ["button"]
		}
	},
	"layer_configs": {
		"3011030003": {
			"name": "3011030003",
			"value": {"button": "green", "title": "layer title"},
			"rule_id": "treatment",
			"group_name": "Treatment",
			"id_type": "userID",
			"allocated_experiment_name": "3921852239",
			"is_experiment_active": true,
			"is_user_in_experiment": true,
			"explicit_parameters": ["button"],
			"undelegated_secondary_exposures": []
		}
	},
	"param_stores": {
		"2146298833": {
			"parameters": {
				"max_items": {"ref_type": "static", "param_type": "number", "value": 10}
			}
		}
	},
	"hash_used": "djb2",
	"time": %d,
	"has_updates": true
}
`

// SpecsHandler serves SpecsJSON on the download_config_specs endpoint.
func SpecsHandler(rw http.ResponseWriter, req *http.Request) {
	serve(rw, req, "/v1/download_config_specs", SpecsJSON)
}

// InitializeHandler serves InitializeJSON on the initialize endpoint.
func InitializeHandler(rw http.ResponseWriter, req *http.Request) {
	serve(rw, req, "/v1/initialize", InitializeJSON)
}

func serve(rw http.ResponseWriter, req *http.Request, path, body string) {
	if req.URL.Path != path {
		panic("Wrong path " + req.URL.Path)
	}
	if req.URL.Query().Get("k") == "" {
		panic("Missing SDK key")
	}

	rw.Header().Set("Content-Type", "application/json")

	rw.WriteHeader(http.StatusOK)
	_, err := io.WriteString(rw, body)
	if err != nil {
		panic(err)
	}
}
