// Package specdoc applies the mod_spec operator language (spec §3, §4.5)
// to a Firework's spec document, and reads the handful of reserved keys
// (_priority, _dupefinder, _category, _recovery, _launch_dir) other
// packages consult. It is built on gjson/sjson rather than re-marshaling
// the whole spec through encoding/json for every operator, matching how
// the source system treats a document as addressable by dotted path
// rather than as a fully-typed struct.
package specdoc

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/launchpad-go/model"
)

// Reserved spec keys consulted outside the mod_spec operator language.
const (
	KeyPriority   = "_priority"
	KeyDupefinder = "_dupefinder"
	KeyCategory   = "_category"
	KeyRecovery   = "_recovery"
	KeyLaunchDir  = "_launch_dir"
)

// Priority returns spec._priority, defaulting to 0 if absent or not a
// number.
func Priority(spec map[string]interface{}) float64 {
	v, ok := spec[KeyPriority]
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

// Category returns spec._category, or "" if absent.
func Category(spec map[string]interface{}) string {
	v, _ := spec[KeyCategory].(string)
	return v
}

// ApplyModSpec applies ops in order to spec and returns the resulting
// spec. spec is marshaled to JSON once, mutated operator-by-operator via
// sjson/gjson, and unmarshaled back, so nested dotted-path operators
// (e.g. "parameters.count") work without the caller pre-navigating the
// map.
func ApplyModSpec(spec map[string]interface{}, ops []model.ModOperation) (map[string]interface{}, error) {
	if len(ops) == 0 {
		return spec, nil
	}

	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("specdoc: marshal spec: %w", err)
	}

	for _, op := range ops {
		raw, err = applyOne(raw, op)
		if err != nil {
			return nil, fmt.Errorf("specdoc: apply %s %s: %w", op.Op, op.Key, err)
		}
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("specdoc: unmarshal spec: %w", err)
	}
	return out, nil
}

func applyOne(raw []byte, op model.ModOperation) ([]byte, error) {
	switch op.Op {
	case "_set":
		return sjson.SetBytes(raw, op.Key, op.Val)

	case "_unset":
		return sjson.DeleteBytes(raw, op.Key)

	case "_inc":
		delta, ok := toFloat(op.Val)
		if !ok {
			return nil, fmt.Errorf("_inc value must be numeric, got %T", op.Val)
		}
		current := gjson.GetBytes(raw, op.Key)
		return sjson.SetBytes(raw, op.Key, current.Float()+delta)

	case "_push":
		existing := gjson.GetBytes(raw, op.Key)
		if !existing.Exists() {
			return sjson.SetBytes(raw, op.Key, []interface{}{op.Val})
		}
		return sjson.SetRawBytes(raw, op.Key+".-1", mustMarshal(op.Val))

	case "_push_all":
		values, ok := op.Val.([]interface{})
		if !ok {
			return nil, fmt.Errorf("_push_all value must be a list, got %T", op.Val)
		}
		var err error
		for _, v := range values {
			raw, err = applyOne(raw, model.ModOperation{Op: "_push", Key: op.Key, Val: v})
			if err != nil {
				return nil, err
			}
		}
		return raw, nil

	case "_pull":
		current := gjson.GetBytes(raw, op.Key)
		if !current.IsArray() {
			return raw, nil
		}
		var kept []interface{}
		for _, item := range current.Array() {
			if !jsonEqual(item.Value(), op.Val) {
				kept = append(kept, item.Value())
			}
		}
		return sjson.SetBytes(raw, op.Key, kept)

	default:
		return nil, fmt.Errorf("unknown mod_spec operator %q", op.Op)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// op.Val originates from an in-process FWAction, never external
		// input, so a marshal failure here means a caller built an
		// unmarshalable value (e.g. a channel or func) — a programmer
		// error, not a runtime condition to recover from.
		panic(fmt.Sprintf("specdoc: value not marshalable: %v", err))
	}
	return data
}

func jsonEqual(a, b interface{}) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
