// Command fieldsyncd runs the FieldSync capture and sync engine as a local
// daemon for the field-worker client shell. The UI talks to it over
// localhost HTTP/WebSocket.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
