// Package protocol defines the data exchanged between an inspector session
// and its observer: console messages, remote object descriptions, events,
// and command errors.
package protocol

import (
	"fmt"

	"github.com/coral-mesh/coral-inspector/internal/errors"
)

// MessageSource identifies the subsystem that produced a console message.
type MessageSource string

const (
	SourceXML           MessageSource = "xml"
	SourceJavaScript    MessageSource = "javascript"
	SourceNetwork       MessageSource = "network"
	SourceConsoleAPI    MessageSource = "console-api"
	SourceStorage       MessageSource = "storage"
	SourceRendering     MessageSource = "rendering"
	SourceCSS           MessageSource = "css"
	SourceSecurity      MessageSource = "security"
	SourceContentFilter MessageSource = "content-blocker"
	SourceMedia         MessageSource = "media"
	SourceMediaSource   MessageSource = "mediasource"
	SourceWebRTC        MessageSource = "webrtc"
	SourceOther         MessageSource = "other"
)

var messageSources = []MessageSource{
	SourceXML, SourceJavaScript, SourceNetwork, SourceConsoleAPI, SourceStorage,
	SourceRendering, SourceCSS, SourceSecurity, SourceContentFilter, SourceMedia,
	SourceMediaSource, SourceWebRTC, SourceOther,
}

// ParseMessageSource validates s against the known sources.
func ParseMessageSource(s string) (MessageSource, error) {
	for _, src := range messageSources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown message source %q", s)
}

// MessageLevel is the severity of a console message.
type MessageLevel string

const (
	LevelLog     MessageLevel = "log"
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
	LevelDebug   MessageLevel = "debug"
)

// ParseMessageLevel validates s against the known levels.
func ParseMessageLevel(s string) (MessageLevel, error) {
	switch MessageLevel(s) {
	case LevelLog, LevelInfo, LevelWarning, LevelError, LevelDebug:
		return MessageLevel(s), nil
	}
	return "", fmt.Errorf("unknown message level %q", s)
}

// MessageType refines how a console message should be presented.
type MessageType string

const (
	TypeLog        MessageType = "log"
	TypeDir        MessageType = "dir"
	TypeTable      MessageType = "table"
	TypeTrace      MessageType = "trace"
	TypeClear      MessageType = "clear"
	TypeStartGroup MessageType = "startGroup"
	TypeEndGroup   MessageType = "endGroup"
	TypeAssert     MessageType = "assert"
	TypeTiming     MessageType = "timing"
	TypeProfile    MessageType = "profile"
	TypeProfileEnd MessageType = "profileEnd"
)

// ClearReason explains why the console buffer was emptied.
type ClearReason string

const (
	ClearReasonConsoleAPI          ClearReason = "console-api"
	ClearReasonFrontend            ClearReason = "frontend"
	ClearReasonMainFrameNavigation ClearReason = "main-frame-navigation"
)

// ChannelLevel is the verbosity of a logging channel.
type ChannelLevel string

const (
	ChannelOff     ChannelLevel = "off"
	ChannelBasic   ChannelLevel = "basic"
	ChannelVerbose ChannelLevel = "verbose"
)

// ParseChannelLevel validates s against the known channel levels.
func ParseChannelLevel(s string) (ChannelLevel, error) {
	switch ChannelLevel(s) {
	case ChannelOff, ChannelBasic, ChannelVerbose:
		return ChannelLevel(s), nil
	}
	return "", fmt.Errorf("unknown channel level %q", s)
}

// Admits reports whether a message at level passes a channel set to c.
func (c ChannelLevel) Admits(level MessageLevel) bool {
	switch c {
	case ChannelOff:
		return false
	case ChannelBasic:
		return level != LevelDebug
	case ChannelVerbose:
		return true
	}
	errors.Unreachable("channel level %q", string(c))
	return false
}

// CollectionType classifies a garbage collection reported to the observer.
type CollectionType string

const (
	CollectionFull    CollectionType = "full"
	CollectionPartial CollectionType = "partial"
)

// DisconnectReason explains why an observer detached.
type DisconnectReason string

const (
	DisconnectFrontendClosed  DisconnectReason = "frontend-closed"
	DisconnectTargetDestroyed DisconnectReason = "target-destroyed"
)
