// Package app assembles the storage, cache, billing and membership
// components from a loaded config. Both binaries start here.
package app
