// Package fetch downloads release artifacts into a per-version cache.
//
// Downloads are retried with exponential backoff, written to a temporary
// file and renamed into place, so a cache entry is either complete or
// absent. Cached files are reused on subsequent runs:
//
//	<cache>/<name>/<version>/<basename of url>
package fetch
