// Package record encodes journal entries for served lookups as protobuf
// Structs, so any consumer can decode them without generated code.
package record

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	KindResolve = "resolve"
	KindPage    = "page"
	KindFile    = "file"
)

type Resolution struct {
	Wiki     string
	Kind     string
	Input    string
	Output   string
	Error    string
	Duration time.Duration
	Time     time.Time
}

// Key is the message key used by the journal: the wiki id, so entries for one
// wiki keep their order on a partitioned topic.
func (r Resolution) Key() []byte {
	return []byte(r.Wiki)
}

func (r Resolution) Struct() (*structpb.Struct, error) {
	fields := map[string]any{
		"wiki":        r.Wiki,
		"kind":        r.Kind,
		"input":       r.Input,
		"output":      r.Output,
		"duration_ms": float64(r.Duration.Milliseconds()),
		"time":        r.Time.UTC().Format(time.RFC3339Nano),
	}
	if r.Error != "" {
		fields["error"] = r.Error
	}
	return structpb.NewStruct(fields)
}

func Marshal(r Resolution) ([]byte, error) {
	msg, err := r.Struct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func Unmarshal(data []byte) (*structpb.Struct, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Decode is the inverse of Marshal.
func Decode(data []byte) (Resolution, error) {
	msg, err := Unmarshal(data)
	if err != nil {
		return Resolution{}, err
	}
	f := msg.GetFields()
	r := Resolution{
		Wiki:     f["wiki"].GetStringValue(),
		Kind:     f["kind"].GetStringValue(),
		Input:    f["input"].GetStringValue(),
		Output:   f["output"].GetStringValue(),
		Error:    f["error"].GetStringValue(),
		Duration: time.Duration(f["duration_ms"].GetNumberValue()) * time.Millisecond,
	}
	if ts := f["time"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Resolution{}, fmt.Errorf("record time %q: %w", ts, err)
		}
		r.Time = t
	}
	return r, nil
}
