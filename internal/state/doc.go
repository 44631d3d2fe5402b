// Package state persists what caskr has installed.
//
// Layout under the state directory:
//
//	caskr.lock            exclusive lock held while mutating a prefix
//	receipts/<name>.json  one receipt per installed cask
//
// Receipts are written with write-then-rename and never edited in place; a
// reinstall replaces the file and an uninstall deletes it.
package state
