// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🔄 go-lingosync - Offline-First Flashcard Sync Engine")
	fmt.Println("=====================================================")
	fmt.Println()
	fmt.Println("go-lingosync keeps a user's language folders, card sets and flashcards")
	fmt.Println("in sync across devices: durable offline change queue, debounced push,")
	fmt.Println("cursor-based pull deltas, and server-side conflict resolution.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Sync Server (examples/lingoserver/)")
	fmt.Println("   Complete HTTP backend: Postgres storage, account registration,")
	fmt.Println("   JWT auth, pull/push/full-sync endpoints, REST admin surface")
	fmt.Println("   Run: cd examples/lingoserver && go run .")
	fmt.Println()

	fmt.Println("2. 📱 Device Flow (examples/deviceflow/)")
	fmt.Println("   Two SQLite-backed devices syncing through an in-process server:")
	fmt.Println("   offline editing, full-sync bootstrap, conflict convergence, deletes")
	fmt.Println("   Run: cd examples/deviceflow && go run .")
	fmt.Println()
}
