package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"datalink-sync/internal/model"
)

// DefaultTimeout bounds a single script run.
const DefaultTimeout = 5 * time.Second

// LuaEncoder runs an encoder script in a fresh sandboxed VM per request.
type LuaEncoder struct {
	name    string
	path    string
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.RWMutex
	code string
}

// NewLuaEncoder loads the script at path and checks that it defines encode.
func NewLuaEncoder(path string, logger *slog.Logger) (*LuaEncoder, error) {
	e := &LuaEncoder{
		name:    path,
		path:    path,
		logger:  logger.With("component", "encoder", "script", path),
		timeout: DefaultTimeout,
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewLuaEncoderString is like NewLuaEncoder for inline source.
func NewLuaEncoderString(name, code string, logger *slog.Logger) (*LuaEncoder, error) {
	e := &LuaEncoder{
		name:    name,
		logger:  logger.With("component", "encoder", "script", name),
		timeout: DefaultTimeout,
	}
	if err := e.check(code); err != nil {
		return nil, err
	}
	e.code = code
	return e, nil
}

// Reload re-reads the script file. The previous script stays active when
// the new one is invalid.
func (e *LuaEncoder) Reload() error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("read encoder script: %w", err)
	}
	code := string(data)
	if err := e.check(code); err != nil {
		return err
	}
	e.mu.Lock()
	e.code = code
	e.mu.Unlock()
	e.logger.Info("encoder script loaded", "bytes", len(code))
	return nil
}

func (e *LuaEncoder) check(code string) error {
	L := e.newState()
	defer L.Close()
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	L.SetContext(ctx)
	if err := L.DoString(code); err != nil {
		return fmt.Errorf("load encoder %s: %s", e.name, luaError(err))
	}
	if _, ok := L.GetGlobal("encode").(*lua.LFunction); !ok {
		return fmt.Errorf("load encoder %s: no encode function defined", e.name)
	}
	return nil
}

func (e *LuaEncoder) Encode(ctx context.Context, req *model.Request) ([][]byte, error) {
	e.mu.RLock()
	code := e.code
	e.mu.RUnlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	L := e.newState()
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(code); err != nil {
		return nil, fmt.Errorf("encode: %s", luaError(err))
	}
	fn, ok := L.GetGlobal("encode").(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("encode: no encode function defined")
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, goToLua(L, requestValue(req))); err != nil {
		return nil, fmt.Errorf("encode: %s", luaError(err))
	}
	ret := L.Get(-1)
	L.Pop(1)

	packets, err := luaToPackets(ret)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	e.logger.Debug("request encoded", "packets", len(packets), "duration", time.Since(start))
	return packets, nil
}

// newState returns a VM with file, process and module loading removed.
func (e *LuaEncoder) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	registerDatalinkModule(L, e.logger)
	return L
}

func registerDatalinkModule(L *lua.LState, logger *slog.Logger) {
	mod := L.NewTable()

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info("script log", "msg", L.CheckString(1))
		return 0
	}))

	mod.RawSetString("bytes", L.NewFunction(func(L *lua.LState) int {
		L.Push(goToLua(L, []byte(L.CheckString(1))))
		return 1
	}))

	mod.RawSetString("crc_wrap", L.NewFunction(func(L *lua.LState) int {
		packet, err := luaToBytes(L.CheckAny(1))
		if err != nil {
			L.ArgError(1, err.Error())
			return 0
		}
		L.Push(goToLua(L, WrapCRC(packet)))
		return 1
	}))

	L.SetGlobal("datalink", mod)
}

func luaError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "context deadline exceeded") {
		return "timeout"
	}
	return msg
}

func luaToPackets(v lua.LValue) ([][]byte, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("encode must return a table of packets, got %s", v.Type())
	}
	n := tbl.Len()
	packets := make([][]byte, 0, n)
	for i := 1; i <= n; i++ {
		p, err := luaToBytes(tbl.RawGetInt(i))
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		packets = append(packets, p)
	}
	return packets, nil
}

func luaToBytes(v lua.LValue) ([]byte, error) {
	switch val := v.(type) {
	case lua.LString:
		return []byte(string(val)), nil
	case *lua.LTable:
		n := val.Len()
		out := make([]byte, n)
		for i := 1; i <= n; i++ {
			num, ok := val.RawGetInt(i).(lua.LNumber)
			f := float64(num)
			if !ok || f < 0 || f > 255 || f != math.Trunc(f) {
				return nil, fmt.Errorf("byte %d is not an integer 0..255", i)
			}
			out[i-1] = byte(f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want byte array or string, got %s", v.Type())
}
