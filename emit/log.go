package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured log output to a
// writer, either human-readable text or JSONL.
//
// Example text output:
//
//	[reserve] fw_id=42 meta={"checkout":true}
//
// Example JSON output:
//
//	{"kind":"reserve","fwID":42,"meta":{"checkout":true}}
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if nil)
// in JSON lines if jsonMode, otherwise human-readable text.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes a single event.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		Kind      EventKind              `json:"kind"`
		FwID      int                    `json:"fwID"`
		WfName    string                 `json:"wfName,omitempty"`
		LaunchIdx int                    `json:"launchIdx,omitempty"`
		Meta      map[string]interface{} `json:"meta,omitempty"`
	}{
		Kind:      event.Kind,
		FwID:      event.FwID,
		WfName:    event.WfName,
		LaunchIdx: event.LaunchIdx,
		Meta:      event.Meta,
	})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s]", event.Kind)
	if event.FwID != 0 {
		_, _ = fmt.Fprintf(l.writer, " fw_id=%d", event.FwID)
	}
	if event.WfName != "" {
		_, _ = fmt.Fprintf(l.writer, " wf_name=%s", event.WfName)
	}
	if event.LaunchIdx != 0 {
		_, _ = fmt.Fprintf(l.writer, " launch_idx=%d", event.LaunchIdx)
	}
	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			_, _ = fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes events in order, one per line.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.Emit(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes directly without buffering. Wrap the
// writer in a bufio.Writer and flush that directly if buffering is needed.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}
