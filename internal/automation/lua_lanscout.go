//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"time"

	"lanscout/internal/scan"

	lua "github.com/yuin/gopher-lua"
)

const luaModuleName = "lanscout"

// registerLanscoutModule registers the `lanscout` global table in a Lua state.
func registerLanscoutModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return lanscoutOn(L, vm)
	}))

	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return lanscoutDevices(L, e)
	}))

	mod.RawSetString("scan", L.NewFunction(func(L *lua.LState) int {
		return lanscoutScan(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return lanscoutAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return lanscoutLog(L, e)
	}))

	L.SetGlobal(luaModuleName, mod)
}

const maxHandlersPerScript = 100

// lanscout.on(type, filter, callback)
func lanscoutOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("mac"); v != lua.LNil {
		h.mac = v.String()
	}
	if v := filterTable.RawGetString("ip"); v != lua.LNil {
		h.ip = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// lanscout.devices() -- returns a table of the current device view
func lanscoutDevices(L *lua.LState, e *Engine) int {
	devices, err := e.coord.Devices()
	if err != nil {
		L.Push(L.NewTable())
		return 1
	}

	tbl := L.NewTable()
	for i, dev := range devices {
		d := L.NewTable()
		d.RawSetString("mac", lua.LString(dev.MAC))
		d.RawSetString("ip", lua.LString(dev.IP))
		d.RawSetString("hostname", lua.LString(dev.Hostname))
		d.RawSetString("is_online", lua.LBool(dev.Online))
		d.RawSetString("source", lua.LString(dev.Source))
		tbl.RawSetInt(i+1, d)
	}

	L.Push(tbl)
	return 1
}

// lanscout.scan() -- triggers a scan in the background
func lanscoutScan(_ *lua.LState, e *Engine) int {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := e.coord.Scan(ctx); err != nil && !errors.Is(err, scan.ErrScanInProgress) {
			e.logger.Error("script-triggered scan", "err", err)
		}
	}()
	return 0
}

// lanscout.after(seconds, callback) -- delayed execution
func lanscoutAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// lanscout.log(msg)
func lanscoutLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}
