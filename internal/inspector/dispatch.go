package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

type handler func(ctx context.Context, params json.RawMessage) (any, error)

// Empty is the result of commands that return nothing.
type Empty struct{}

// SetClearAPIEnabledParams are the parameters of Console.setConsoleClearAPIEnabled.
type SetClearAPIEnabledParams struct {
	Enable bool `json:"enable"`
}

// SetLoggingChannelLevelParams are the parameters of Console.setLoggingChannelLevel.
type SetLoggingChannelLevelParams struct {
	Source string `json:"source"`
	Level  string `json:"level"`
}

// LoggingChannelsResult is the result of Console.getLoggingChannels.
type LoggingChannelsResult struct {
	Channels []protocol.LoggingChannel `json:"channels"`
}

// SnapshotResult is the result of Heap.snapshot.
type SnapshotResult struct {
	Timestamp    float64                   `json:"timestamp"`
	SnapshotData protocol.HeapSnapshotData `json:"snapshotData"`
}

// HeapObjectParams identify a heap object.
type HeapObjectParams struct {
	HeapObjectID heap.HeapObjectID `json:"heapObjectId"`
	ObjectGroup  string            `json:"objectGroup,omitempty"`
}

// RemoteObjectResult is the result of Heap.getRemoteObject.
type RemoteObjectResult struct {
	Result protocol.RemoteObject `json:"result"`
}

// ObjectIDParams identify a remote object handle.
type ObjectIDParams struct {
	ObjectID string `json:"objectId"`
}

// HeapObjectIDResult is the result of Heap.getHeapObjectId.
type HeapObjectIDResult struct {
	HeapObjectID heap.HeapObjectID `json:"heapObjectId"`
}

// ObjectGroupParams are the parameters of Runtime.releaseObjectGroup.
type ObjectGroupParams struct {
	ObjectGroup string `json:"objectGroup"`
}

// MethodsResult is the result of Inspector.getMethods.
type MethodsResult struct {
	Methods []string `json:"methods"`
}

// ReleaseResult reports how many handles a release dropped.
type ReleaseResult struct {
	Released int `json:"released"`
}

func (s *Session) registerHandlers() map[string]handler {
	return map[string]handler{
		"Console.enable": noParams(func(context.Context) (any, error) {
			s.console.Enable()
			return Empty{}, nil
		}),
		"Console.disable": noParams(func(context.Context) (any, error) {
			s.console.Disable()
			return Empty{}, nil
		}),
		"Console.clearMessages": noParams(func(context.Context) (any, error) {
			s.console.ClearMessages(protocol.ClearReasonFrontend)
			return Empty{}, nil
		}),
		"Console.setConsoleClearAPIEnabled": withParams(func(_ context.Context, p SetClearAPIEnabledParams) (any, error) {
			s.console.SetClearAPIEnabled(p.Enable)
			return Empty{}, nil
		}),
		"Console.getLoggingChannels": noParams(func(context.Context) (any, error) {
			return LoggingChannelsResult{Channels: s.console.LoggingChannels()}, nil
		}),
		"Console.setLoggingChannelLevel": withParams(func(_ context.Context, p SetLoggingChannelLevelParams) (any, error) {
			source, err := protocol.ParseMessageSource(p.Source)
			if err != nil {
				return nil, protocol.InvalidParamsf("%v", err)
			}
			level, err := protocol.ParseChannelLevel(p.Level)
			if err != nil {
				return nil, protocol.InvalidParamsf("%v", err)
			}
			if err := s.console.SetLoggingChannelLevel(source, level); err != nil {
				return nil, err
			}
			return Empty{}, nil
		}),

		"Heap.enable": noParams(func(context.Context) (any, error) {
			s.heap.Enable()
			return Empty{}, nil
		}),
		"Heap.disable": noParams(func(context.Context) (any, error) {
			s.heap.Disable()
			return Empty{}, nil
		}),
		"Heap.gc": noParams(func(ctx context.Context) (any, error) {
			if err := s.heap.GC(ctx); err != nil {
				return nil, err
			}
			return Empty{}, nil
		}),
		"Heap.snapshot": noParams(func(context.Context) (any, error) {
			ts, data, err := s.heap.Snapshot()
			if err != nil {
				return nil, err
			}
			return SnapshotResult{Timestamp: ts, SnapshotData: data}, nil
		}),
		"Heap.startTracking": noParams(func(context.Context) (any, error) {
			return Empty{}, s.heap.StartTracking()
		}),
		"Heap.stopTracking": noParams(func(context.Context) (any, error) {
			return Empty{}, s.heap.StopTracking()
		}),
		"Heap.getPreview": withParams(func(_ context.Context, p HeapObjectParams) (any, error) {
			return s.heap.GetPreview(p.HeapObjectID)
		}),
		"Heap.getRemoteObject": withParams(func(_ context.Context, p HeapObjectParams) (any, error) {
			obj, err := s.heap.GetRemoteObject(p.HeapObjectID, p.ObjectGroup)
			if err != nil {
				return nil, err
			}
			return RemoteObjectResult{Result: obj}, nil
		}),
		"Heap.getHeapObjectId": withParams(func(_ context.Context, p ObjectIDParams) (any, error) {
			id, ok := s.heap.ResolveObject(p.ObjectID)
			if !ok {
				return nil, protocol.LookupErrorf("no remote object with id %q", p.ObjectID)
			}
			return HeapObjectIDResult{HeapObjectID: id}, nil
		}),
		"Heap.clearSnapshots": noParams(func(context.Context) (any, error) {
			s.heap.ClearSnapshots()
			return Empty{}, nil
		}),

		"Runtime.releaseObjectGroup": withParams(func(_ context.Context, p ObjectGroupParams) (any, error) {
			return ReleaseResult{Released: s.heap.ReleaseObjectGroup(p.ObjectGroup)}, nil
		}),

		"Inspector.getState": noParams(func(context.Context) (any, error) {
			return s.State(), nil
		}),
		"Inspector.getMethods": noParams(func(context.Context) (any, error) {
			return MethodsResult{Methods: s.Methods()}, nil
		}),
	}
}

// Methods returns the names of every command the session handles.
func (s *Session) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Dispatch runs the observer command method with JSON params. Failures are
// *protocol.Error values; a panic in a handler is reported as an internal
// error instead of taking down the host.
func (s *Session) Dispatch(ctx context.Context, method string, params json.RawMessage) (result any, err error) {
	h, ok := s.handlers[method]
	if !ok {
		return nil, protocol.NewError(protocol.CodeMethodNotFound, "'%s' was not found", method)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("method", method).Msg("Command handler panicked")
			result, err = nil, protocol.NewError(protocol.CodeInternalError, "%s failed: %v", method, r)
		}
	}()

	result, err = h(ctx, params)
	if err != nil {
		s.logger.Debug().Err(err).Str("method", method).Msg("Command failed")
		return nil, protocol.AsError(err)
	}
	return result, nil
}

func noParams(fn func(ctx context.Context) (any, error)) handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return fn(ctx)
	}
}

func withParams[P any](fn func(ctx context.Context, p P) (any, error)) handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&p); err != nil {
				return nil, protocol.InvalidParamsf("invalid parameters: %v", err)
			}
		}
		return fn(ctx, p)
	}
}
