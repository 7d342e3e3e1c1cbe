package logging

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "watermill"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	logger.Error("oops", errors.New("boom"), LogFields{"failed": true})

	child := logger.With(LogFields{"child": "yes"})
	typedChild, ok := child.(*watermillServiceLogger)
	if !ok {
		t.Fatal("expected watermill service logger")
	}
	typedChild.Info("child_info", nil)

	if len(base.entries) != 6 {
		t.Fatalf("expected 6 log entries, got %d", len(base.entries))
	}
	if base.entries[0].level != "debug" || base.entries[0].fields["component"] != "watermill" {
		t.Fatalf("unexpected first entry: %#v", base.entries[0])
	}
	if base.entries[4].fields["child"] != "yes" {
		t.Fatalf("expected With to propagate fields, got %#v", base.entries[4].fields)
	}
}

func TestWatermillServiceLoggerPanicsOnNilLogger(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when logger nil")
		}
	}()
	NewWatermillServiceLogger(nil)
}

func TestSlogLoggerPanicsOnNil(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when slog logger nil")
		}
	}()
	NewSlogServiceLogger(nil)
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	child := adapter.With(watermill.LogFields{"child": "yes"})
	typedChild, ok := child.(*serviceLoggerAdapter)
	if !ok {
		t.Fatal("expected service logger adapter child")
	}
	childBase, ok := typedChild.base.(*recordingServiceLogger)
	if !ok {
		t.Fatal("expected recording service logger child base")
	}
	child.Info("child_info", nil)

	if len(base.entries) != 4 {
		t.Fatalf("expected 4 delegated entries on base, got %d", len(base.entries))
	}
	if len(childBase.entries) != 2 {
		t.Fatalf("expected child logger to record entries, got %d", len(childBase.entries))
	}
	if childBase.entries[0].fields["child"] != "yes" {
		t.Fatalf("expected child fields to be preserved")
	}
}

func TestWatermillAdapterPanicsOnNil(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when adapter nil")
		}
	}()
	NewWatermillAdapter(nil)
}

func TestForComponentTagsEntries(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := ForComponent(NewWatermillServiceLogger(base), "recognizer", "dispatcher")
	logger.Info("dispatched", nil)

	if len(base.entries) != 2 {
		t.Fatalf("expected with+info entries, got %d", len(base.entries))
	}
	with := base.entries[0]
	if with.fields["client"] != "recognizer" || with.fields["component"] != "dispatcher" {
		t.Fatalf("unexpected component fields: %#v", with.fields)
	}
}

func TestWithEmptyFieldsReturnsSameLogger(t *testing.T) {
	logger := NewWatermillServiceLogger(newRecordingWatermillLogger())
	if logger.With(nil) != logger {
		t.Fatal("expected With(nil) to return the receiver")
	}
}

func TestNopServiceLogger(t *testing.T) {
	logger := NewNopServiceLogger()
	logger.Info("ignored", LogFields{"k": "v"})
	logger.Error("ignored", errors.New("boom"), nil)
	if logger.With(LogFields{"a": 1}) == nil {
		t.Fatal("expected child logger")
	}
}

func TestWatermillFieldConversions(t *testing.T) {
	if toWatermillFields(nil) != nil {
		t.Fatal("expected nil conversion to return nil")
	}
	if fromWatermillFields(nil) != nil {
		t.Fatal("expected nil conversion to return nil")
	}

	wm := toWatermillFields(LogFields{"a": 1})
	if wm["a"].(int) != 1 {
		t.Fatalf("unexpected watermill fields: %#v", wm)
	}
	lf := fromWatermillFields(wm)
	if lf["a"].(int) != 1 {
		t.Fatalf("unexpected log fields: %#v", lf)
	}
}

func TestNewSlogServiceLoggerWrapsSlog(t *testing.T) {
	base := slog.New(slog.NewTextHandler(testWriter{}, nil))
	logger := NewSlogServiceLogger(base)
	logger.Info("hello", LogFields{"k": "v"})
}

type recordingWatermillLogger struct {
	entries []watermillEntry
	sink    *[]watermillEntry
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	logger := &recordingWatermillLogger{}
	logger.sink = &logger.entries
	return logger
}

func (r *recordingWatermillLogger) record(entry watermillEntry) {
	if r.sink == nil {
		r.sink = &r.entries
	}
	*r.sink = append(*r.sink, entry)
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record(watermillEntry{level: "error", fields: fields, err: err})
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "info", fields: fields})
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "debug", fields: fields})
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "trace", fields: fields})
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	child := newRecordingWatermillLogger()
	child.sink = r.sink
	child.record(watermillEntry{level: "with", fields: fields})
	return child
}

type recordingServiceLogger struct {
	entries []loggedEntry
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	cloned := &recordingServiceLogger{}
	cloned.entries = append(cloned.entries, loggedEntry{level: "with", fields: fields})
	return cloned
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "trace", msg: msg, fields: fields})
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }
