// Package main hosts the threadmap CLI entrypoint and command graph.
//
// The Cobra-based command tree covers city queue management, work-queue
// maintenance, environment preflight, and configuration scaffolding. Every
// command operates on the shared database file directly, so the daemon does
// not need to be running for maintenance work.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
