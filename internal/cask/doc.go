// Package cask orchestrates installing and removing casks.
//
// Install runs the full pipeline under the state lock:
//
//	resolve -> fetch -> verify -> [signature] -> install -> receipt
//
// Uninstall removes the installed binary and its receipt. Zap additionally
// removes the user state a manifest lists under zap; it is never triggered
// implicitly by uninstall or upgrade.
package cask
