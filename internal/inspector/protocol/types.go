package protocol

// CallFrame is one frame of a captured call stack.
type CallFrame struct {
	FunctionName string `json:"functionName"`
	URL          string `json:"url"`
	ScriptID     string `json:"scriptId,omitempty"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// StackTrace is a call stack snapshot, innermost frame first.
type StackTrace struct {
	CallFrames []CallFrame `json:"callFrames"`
}

// ConsoleMessage is a single console entry. Producers build it once; after it
// is handed to the console channel it must not be modified by the caller.
type ConsoleMessage struct {
	Source      MessageSource  `json:"source"`
	Level       MessageLevel   `json:"level"`
	Text        string         `json:"text"`
	Type        MessageType    `json:"type,omitempty"`
	URL         string         `json:"url,omitempty"`
	Line        int            `json:"line,omitempty"`
	Column      int            `json:"column,omitempty"`
	RepeatCount int            `json:"repeatCount,omitempty"`
	Parameters  []RemoteObject `json:"parameters,omitempty"`
	StackTrace  *StackTrace    `json:"stackTrace,omitempty"`
	Timestamp   float64        `json:"timestamp"`
}

// LoggingChannel is a named source whose verbosity the observer can adjust.
type LoggingChannel struct {
	Source MessageSource `json:"source"`
	Level  ChannelLevel  `json:"level"`
}

// Location is a position in a script.
type Location struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// FunctionDetails describes a function object.
type FunctionDetails struct {
	Location    *Location `json:"location,omitempty"`
	Name        string    `json:"name,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
}

// PropertyPreview is a shallow view of one property of an object.
type PropertyPreview struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// ObjectPreview is a shallow view of an object's properties.
type ObjectPreview struct {
	Type        string            `json:"type"`
	Subtype     string            `json:"subtype,omitempty"`
	Description string            `json:"description,omitempty"`
	Lossless    bool              `json:"lossless"`
	Overflow    bool              `json:"overflow,omitempty"`
	Properties  []PropertyPreview `json:"properties,omitempty"`
}

// RemoteObject is a handle to a runtime value that the observer can refer to.
type RemoteObject struct {
	Type        string         `json:"type"`
	Subtype     string         `json:"subtype,omitempty"`
	ClassName   string         `json:"className,omitempty"`
	Value       any            `json:"value,omitempty"`
	Description string         `json:"description,omitempty"`
	ObjectID    string         `json:"objectId,omitempty"`
	Size        int            `json:"size,omitempty"`
	Preview     *ObjectPreview `json:"preview,omitempty"`
}

// HeapSnapshotData is a serialized heap snapshot graph.
type HeapSnapshotData string
