// Package storage owns the local side of a download: turning titles into
// safe file names, creating the mirrored directory tree and writing files so
// that only complete transfers ever appear under their final name.
package storage
