package receiver

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/nixlim/durtop/internal/processor"
)

// eventNameAttribute carries the event name for producers that predate the
// LogRecord.EventName field.
const eventNameAttribute = "event.name"

// convertRequest flattens an OTLP export request into records. Records with
// no event name are skipped and counted in rejected.
func convertRequest(req *collogspb.ExportLogsServiceRequest, now time.Time) (records []processor.Record, rejected int64) {
	for _, rl := range req.GetResourceLogs() {
		resourceAttrs := attributesToMap(rl.GetResource().GetAttributes())
		for _, sl := range rl.GetScopeLogs() {
			for _, lr := range sl.GetLogRecords() {
				rec, ok := convertRecord(lr, resourceAttrs, now)
				if !ok {
					rejected++
					continue
				}
				records = append(records, rec)
			}
		}
	}
	return records, rejected
}

func convertRecord(lr *logspb.LogRecord, resourceAttrs map[string]string, now time.Time) (processor.Record, bool) {
	attrs := make(map[string]string, len(resourceAttrs)+len(lr.GetAttributes()))
	for k, v := range resourceAttrs {
		attrs[k] = v
	}
	for _, kv := range lr.GetAttributes() {
		attrs[kv.GetKey()] = anyValueString(kv.GetValue())
	}

	name := lr.GetEventName()
	if name == "" {
		name = attrs[eventNameAttribute]
	}
	if name == "" {
		return processor.Record{}, false
	}

	ts := now
	switch {
	case lr.GetTimeUnixNano() != 0:
		ts = time.Unix(0, int64(lr.GetTimeUnixNano()))
	case lr.GetObservedTimeUnixNano() != 0:
		ts = time.Unix(0, int64(lr.GetObservedTimeUnixNano()))
	}

	return processor.Record{Name: name, Timestamp: ts, Attributes: attrs}, true
}

func attributesToMap(kvs []*commonpb.KeyValue) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.GetKey()] = anyValueString(kv.GetValue())
	}
	return m
}

// anyValueString renders an OTLP attribute value as a string. Arrays and
// key-value lists are flattened with commas.
func anyValueString(v *commonpb.AnyValue) string {
	if v == nil {
		return ""
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		parts := make([]string, 0, len(val.ArrayValue.GetValues()))
		for _, item := range val.ArrayValue.GetValues() {
			parts = append(parts, anyValueString(item))
		}
		return strings.Join(parts, ",")
	case *commonpb.AnyValue_KvlistValue:
		parts := make([]string, 0, len(val.KvlistValue.GetValues()))
		for _, kv := range val.KvlistValue.GetValues() {
			parts = append(parts, kv.GetKey()+"="+anyValueString(kv.GetValue()))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}
