// Package sdk embeds a Coral inspector into a Go application.
//
// The SDK owns a managed object heap for the application's inspectable
// objects and a diagnostics session over it. Host log lines can be mirrored
// into the session's console, and an observer endpoint can be served so the
// coral-inspector CLI, or any client speaking the same frames, can attach.
//
// Basic integration:
//
//	import "github.com/coral-mesh/coral-inspector/pkg/sdk"
//
//	func main() {
//	    inspector, err := sdk.New(sdk.Config{
//	        ServiceName: "my-service",
//	        ListenAddr:  "127.0.0.1:9229",
//	        Logger:      logger,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer inspector.Close()
//
//	    logger = inspector.HostLogger(logger)
//	    cache := inspector.Heap().Allocate("Cache", 256)
//	    inspector.Heap().AddRoot("cache", cache)
//	}
//
// Only one observer may be attached at a time; a second connection is
// refused until the first disconnects.
package sdk
