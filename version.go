package flagkit

import (
	"fmt"
	"runtime/debug"
)

const sdkType = "flagkit-go-client"

// sdkVersion returns the module version, or "unknown" during development.
func sdkVersion() string {
	const unknownVersion = "unknown"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return unknownVersion
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		return unknownVersion
	}
	return version
}

// getUserAgent returns the User-Agent header value in the format "flagkit-go-sdk/<version>".
func getUserAgent() string {
	return fmt.Sprintf("%s/%s", "flagkit-go-sdk", sdkVersion())
}
