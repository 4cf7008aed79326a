package store

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeRun serialises a run as a binary google.protobuf.Struct
func EncodeRun(run *Run) ([]byte, error) {
	s, err := runStruct(run)
	if err != nil {
		return nil, err
	}
	b, err := proto.Marshal(s)
	return b, errors.Wrap(err, "store: encode run")
}

// DecodeRun parses the output of EncodeRun
func DecodeRun(b []byte) (*Run, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "store: decode run")
	}
	return runFromMap(s.AsMap())
}

// MarshalRunJSON renders a run with protojson, for export and inspection
func MarshalRunJSON(run *Run) ([]byte, error) {
	s, err := runStruct(run)
	if err != nil {
		return nil, err
	}
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	return b, errors.Wrap(err, "store: marshal run")
}

// UnmarshalRunJSON parses the output of MarshalRunJSON
func UnmarshalRunJSON(b []byte) (*Run, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "store: unmarshal run")
	}
	return runFromMap(s.AsMap())
}

func runStruct(run *Run) (*structpb.Struct, error) {
	series := make(map[string]interface{}, len(run.Series))
	for _, name := range run.SeriesNames() {
		points := make([]interface{}, len(run.Series[name]))
		for i, p := range run.Series[name] {
			points[i] = map[string]interface{}{
				"epoch": float64(p.Epoch),
				"value": number(p.Value),
			}
		}
		series[name] = points
	}

	params := make([]interface{}, len(run.Params))
	for i, snap := range run.Params {
		values := make(map[string]interface{}, len(snap.Values))
		for name, vs := range snap.Values {
			list := make([]interface{}, len(vs))
			for j, v := range vs {
				list[j] = number(v)
			}
			values[name] = list
		}
		params[i] = map[string]interface{}{
			"epoch":  float64(snap.Epoch),
			"values": values,
		}
	}

	s, err := structpb.NewStruct(map[string]interface{}{
		"id":         run.ID,
		"model":      run.Model,
		"created_at": run.CreatedAt.UTC().Format(time.RFC3339Nano),
		"epochs":     float64(run.Epochs),
		"stopped":    run.Stopped,
		"series":     series,
		"params":     params,
	})
	return s, errors.Wrap(err, "store: build run struct")
}

// number keeps NaN and infinities representable; JSON numbers cannot hold them.
func number(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return v
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, errors.Errorf("store: expected number, got %T", v)
}

func runFromMap(m map[string]interface{}) (*Run, error) {
	run := &Run{Series: make(map[string][]Point)}
	run.ID, _ = m["id"].(string)
	run.Model, _ = m["model"].(string)
	run.Stopped, _ = m["stopped"].(bool)
	if run.ID == "" {
		return nil, errors.New("store: decoded run has no id")
	}
	if ts, ok := m["created_at"].(string); ok && ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, errors.Wrap(err, "store: created_at")
		}
		run.CreatedAt = t
	}
	epochs, err := toFloat(m["epochs"])
	if err != nil {
		return nil, errors.Wrap(err, "store: epochs")
	}
	run.Epochs = int(epochs)

	series, _ := m["series"].(map[string]interface{})
	for name, raw := range series {
		list, _ := raw.([]interface{})
		for _, item := range list {
			pm, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.Errorf("store: series %s: malformed point", name)
			}
			epoch, err := toFloat(pm["epoch"])
			if err != nil {
				return nil, errors.Wrapf(err, "store: series %s", name)
			}
			value, err := toFloat(pm["value"])
			if err != nil {
				return nil, errors.Wrapf(err, "store: series %s", name)
			}
			run.Series[name] = append(run.Series[name], Point{Epoch: int(epoch), Value: value})
		}
	}

	params, _ := m["params"].([]interface{})
	for _, item := range params {
		sm, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.New("store: malformed parameter snapshot")
		}
		epoch, err := toFloat(sm["epoch"])
		if err != nil {
			return nil, errors.Wrap(err, "store: parameter snapshot")
		}
		snap := ParamSnapshot{Epoch: int(epoch), Values: make(map[string][]float64)}
		values, _ := sm["values"].(map[string]interface{})
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			list, _ := values[name].([]interface{})
			vs := make([]float64, len(list))
			for j, v := range list {
				if vs[j], err = toFloat(v); err != nil {
					return nil, errors.Wrapf(err, "store: parameter %s", name)
				}
			}
			snap.Values[name] = vs
		}
		run.Params = append(run.Params, snap)
	}
	return run, nil
}
