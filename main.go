// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🚀 go-annosync - Offline-First Annotation Sync")
	fmt.Println("==============================================")
	fmt.Println()
	fmt.Println("go-annosync keeps annotations, documents and folders in sync between")
	fmt.Println("offline-capable clients and a server, with a durable client-side action")
	fmt.Println("queue and server-wins conflict resolution on sync versions.")
	fmt.Println()

	fmt.Println("📚 Getting Started:")
	fmt.Println()
	fmt.Println("1. 🌐 Sync Server (cmd/annosync-server/)")
	fmt.Println("   REST + batch sync server backed by PostgreSQL or SQLite")
	fmt.Println("   Features: JWT auth, optimistic concurrency, catch-up endpoint")
	fmt.Println("   Run: ANNOSYNC_JWT_SECRET=secret go run ./cmd/annosync-server")
	fmt.Println()

	fmt.Println("2. 📱 Client Flow Example (examples/client_flow/)")
	fmt.Println("   Offline queue demo: enqueue while disconnected, flush on reconnect")
	fmt.Println("   Features: durable SQLite queue, retry with backoff, conflict callbacks")
	fmt.Println("   Run: cd examples/client_flow && go run . -server http://localhost:8080")
	fmt.Println()

	fmt.Println("📦 Packages:")
	fmt.Println("   annosync  - server-side sync service, stores and HTTP handlers")
	fmt.Println("   annolite  - client-side sync engine with a durable action queue")
	fmt.Println()
}
