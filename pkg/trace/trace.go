// Package trace provides an XML-persisted trace log of state entries,
// exits, transitions, and exceptions, grounded directly on
// original_source/Framework/NSFTraceLog.cpp's <TraceLog><Trace>...</Trace>
// structure. encoding/xml is the direct idiomatic fit for this exact
// persisted shape; no third-party XML library in the retrieval pack offers
// a better one (see DESIGN.md).
package trace

import (
	"encoding/xml"
	"os"
	"sync"
	"time"
)

// Field is one key/value pair carried by a trace entry, persisted as a
// child element <Key>Value</Key> under the entry's type-tagged element.
type Field struct {
	Key   string
	Value string
}

// Entry is one recorded trace event: a Kind (the type-tagged element name,
// e.g. "EventQueued", "StateEntered", "Exception", "Informational") with up
// to a few key/value Fields, timestamped at Record time.
type Entry struct {
	Time   string
	Kind   string
	Fields []Field
}

// traceXML is Entry's on-wire shape: <Trace><Time>..</Time>
// <Kind><Key>Value</Key>...</Kind></Trace>, mirroring the original's
// type-tagged child element carrying key/value child elements.
type traceXML struct {
	XMLName xml.Name `xml:"Trace"`
	Time    string   `xml:"Time"`
	Kind    kindXML  `xml:",any"`
}

type kindXML struct {
	XMLName xml.Name
	Fields  []fieldXML `xml:",any"`
}

type fieldXML struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (e Entry) toXML() traceXML {
	k := kindXML{XMLName: xml.Name{Local: e.Kind}}
	for _, f := range e.Fields {
		k.Fields = append(k.Fields, fieldXML{XMLName: xml.Name{Local: f.Key}, Value: f.Value})
	}
	return traceXML{Time: e.Time, Kind: k}
}

func (t traceXML) toEntry() Entry {
	e := Entry{Time: t.Time, Kind: t.Kind.XMLName.Local}
	for _, f := range t.Kind.Fields {
		e.Fields = append(e.Fields, Field{Key: f.XMLName.Local, Value: f.Value})
	}
	return e
}

// Log is an append-only, bounded-size trace log. A fresh entry evicts the
// oldest once the log holds maxTraces entries, matching the original's
// "delete front while count >= maxTraces" behavior. Logging is a no-op
// until Enable is called, matching the original's default-disabled trace
// log.
type Log struct {
	name string

	mutex     sync.Mutex
	enabled   bool
	maxTraces int
	entries   []Entry
	clock     func() time.Time
}

// New creates a disabled trace log named name, retaining up to 500 traces
// by default (the original's NSFTraceLog::maxTraces default).
func New(name string) *Log {
	return &Log{name: name, maxTraces: 500, clock: time.Now}
}

// Enable turns trace recording on or off.
func (l *Log) Enable(on bool) *Log {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.enabled = on
	return l
}

// Enabled reports whether recording is on.
func (l *Log) Enabled() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.enabled
}

// WithMaxTraces overrides the retained-entry cap.
func (l *Log) WithMaxTraces(n int) *Log {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.maxTraces = n
	return l
}

// AddTrace records an entry of the given kind with up to three key/value
// pairs, per spec.md §6's add_trace(type, key, value, ...). An odd trailing
// key is recorded with an empty value.
func (l *Log) AddTrace(kind string, kv ...string) {
	e := Entry{Kind: kind}
	for i := 0; i < len(kv); i += 2 {
		f := Field{Key: kv[i]}
		if i+1 < len(kv) {
			f.Value = kv[i+1]
		}
		e.Fields = append(e.Fields, f)
	}
	l.Record(e)
}

// Record appends e if the log is enabled, evicting the oldest entry first
// if the log is already at capacity.
func (l *Log) Record(e Entry) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if !l.enabled {
		return
	}
	e.Time = l.clock().Format(time.RFC3339Nano)
	for len(l.entries) >= l.maxTraces && l.maxTraces > 0 {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, e)
}

// Entries returns a snapshot of currently retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]Entry(nil), l.entries...)
}

// traceLogXML is the document root: <TraceLog>...<Trace/>...</TraceLog>.
type traceLogXML struct {
	XMLName xml.Name   `xml:"TraceLog"`
	Traces  []traceXML `xml:"Trace"`
}

// Save serializes the current entries to path as
// <TraceLog><Trace>...</Trace>...</TraceLog>, bracketing the save itself
// with Informational entries the way the original's saveTrace does, so a
// later read of the log shows exactly when the save ran.
func (l *Log) Save(path string) error {
	l.AddTrace("Informational", "Message", "TraceSave")

	l.mutex.Lock()
	doc := traceLogXML{Traces: make([]traceXML, len(l.entries))}
	for i, e := range l.entries {
		doc.Traces[i] = e.toXML()
	}
	l.mutex.Unlock()

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		l.AddTrace("Exception", "Message", l.name+" exception saving trace: "+err.Error())
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		l.AddTrace("Exception", "Message", l.name+" exception saving trace: "+err.Error())
		return err
	}

	l.AddTrace("Informational", "Message", "TraceSaveComplete")
	return nil
}

// Load reads a document previously written by Save and returns its entries
// in order, for offline inspection of a saved trace.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc traceLogXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(doc.Traces))
	for i, t := range doc.Traces {
		entries[i] = t.toEntry()
	}
	return entries, nil
}

var (
	defaultOnce sync.Once
	defaultLog  *Log
)

// Default returns the process-wide primary trace log, creating it on
// first use, matching NSFTraceLog::getPrimaryTraceLog's lazily-constructed
// singleton.
func Default() *Log {
	defaultOnce.Do(func() { defaultLog = New("PrimaryTraceLog") })
	return defaultLog
}
