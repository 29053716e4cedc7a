// Package main hosts the shroud CLI entrypoint and command graph.
//
// The Cobra-based command tree wires the worker loop, tracker maintenance,
// failure and lock inspection, and configuration scaffolding. It centralizes
// configuration resolution and logger construction so subcommands can focus
// on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
