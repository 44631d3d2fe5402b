// Package manifest parses, validates and rewrites cask manifests.
//
// A manifest is a Lua file that assigns a global "cask" table. It is executed
// in a sandboxed gopher-lua VM (no os, io, require or load) with a read-only
// "platform" table injected, so manifests stay declarative while still being
// able to branch on the host:
//
//	cask = {
//	  name = "adk-code",
//	  desc = "Multi-model AI coding assistant CLI powered by Google ADK",
//	  homepage = "https://github.com/raphaelmansuy/adk-code",
//	  version = "0.3.0",
//	  sha256 = {
//	    arm64 = "91309bf5...",
//	    amd64 = "e0bd729f...",
//	  },
//	  url = "https://github.com/raphaelmansuy/adk-code/releases/download/v{version}/adk-code-v{version}-darwin-{arch}",
//	  livecheck = {
//	    url = "https://github.com/raphaelmansuy/adk-code/releases.atom",
//	    regex = [[(?i)/releases/tag/v?(\d+(?:\.\d+)*)]],
//	  },
//	  binary = "adk-code",
//	  postflight = { clear_quarantine = true },
//	  zap = { "~/.adk-code", "~/.config/adk-code" },
//	}
//
// # Checksums
//
// sha256 is either a table keyed by architecture ("arm64"/"amd64", with
// "arm"/"intel" accepted as aliases), a single digest used for every
// architecture, or the string "no_check". no_check is an explicit decision to
// trust the artifact and is the only form allowed together with
// version = "latest".
//
// # Rewriting
//
// Rewrite updates the version string and per-architecture digests of an
// existing manifest source in place, leaving comments and layout untouched.
package manifest
