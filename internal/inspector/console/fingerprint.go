package console

import (
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// fingerprint hashes the fields that make two messages repeats of each other.
// Timestamp and RepeatCount are excluded.
func fingerprint(msg *protocol.ConsoleMessage) uint64 {
	h := xxh3.New()

	field := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	field(string(msg.Source))
	field(string(msg.Level))
	field(string(msg.Type))
	field(msg.Text)
	field(msg.URL)
	field(strconv.Itoa(msg.Line))
	field(strconv.Itoa(msg.Column))

	for _, p := range msg.Parameters {
		field(p.Type)
		field(p.Subtype)
		field(p.ClassName)
		field(p.Description)
		field(p.ObjectID)
		if p.Value != nil {
			field(fmt.Sprint(p.Value))
		}
	}

	if msg.StackTrace != nil {
		for _, f := range msg.StackTrace.CallFrames {
			field(f.FunctionName)
			field(f.URL)
			field(strconv.Itoa(f.LineNumber))
			field(strconv.Itoa(f.ColumnNumber))
		}
	}

	return h.Sum64()
}
