// neurobridge - conversational robot agent
//
// Typed or spoken queries go to an LLM that answers with a message and a
// set of skills (camera, object detection, joint moves), which then run
// concurrently against the attached hardware.
//
// Usage:
//
//	neurobridge [flags]
//
// Type "exit" or "quit" (or press Ctrl+C) to stop.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
