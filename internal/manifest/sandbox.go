package manifest

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM removes everything that lets a manifest reach outside the VM:
// os, io, debug and all module/code loading. string, table and math stay.
func sandboxLuaVM(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)

	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("module", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	L.SetGlobal("debug", lua.LNil)
}

// newSandboxedVM creates a Lua state for manifest evaluation.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
