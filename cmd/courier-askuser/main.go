// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// courier-askuser is the tool server the agent calls to ask the
// operator a multiple-choice question. It speaks newline-delimited
// JSON-RPC on stdio and exposes a single tool, ask_user, whose calls
// are written as request files for the bridge to render as inline
// keyboards. The answer never flows back through this process; the
// user's tap arrives at the agent as their next message.
package main

import (
	"bufio"
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "ask-user tool server running on stdio")

	server := newServer(os.Getenv("BUTTONS_DIR"), os.Getenv("TELEGRAM_CHAT_ID"))
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(os.Stdout)

	for scanner.Scan() {
		response := server.HandleLine(scanner.Bytes())
		if response == nil {
			continue
		}
		out.Write(response)
		out.WriteByte('\n')
		out.Flush()
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "courier-askuser: reading stdin: %v\n", err)
		os.Exit(1)
	}
}
