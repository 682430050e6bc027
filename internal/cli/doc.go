// Package cli implements the glacier command line: global flags resolve the
// configuration once, and each command is a method on App.
package cli
