package sensor

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aarzilli/golua/lua"
)

// DefaultLuaScript is the embedded script reproducing the LYWSD03MMC layout.
//
//go:embed scripts/lywsd03mmc.lua
var DefaultLuaScript string

const (
	luaDecodeFunc   = "decode"
	luaTooShortFunc = "payload_too_short"
)

// LuaError represents a failure while loading or running a decoder script.
type LuaError struct {
	Type    string // "syntax", "runtime", "api"
	Message string
}

func (e *LuaError) Error() string {
	return fmt.Sprintf("Lua %s error: %s", e.Type, e.Message)
}

func (e *LuaError) Is(target error) bool {
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

// LuaDecoder runs a script's global decode(payload) function, which must
// return temperature and humidity. A script rejects a short payload with
// `return payload_too_short(need)`, which Decode reports as a *PayloadError.
// The Lua state is not reentrant, so calls are serialized.
type LuaDecoder struct {
	mu    sync.Mutex
	state *lua.State
	need  int // set by payload_too_short during the current call
}

// NewLuaDecoder loads script, or a file path when it names an existing
// file, or DefaultLuaScript when empty.
func NewLuaDecoder(script string) (*LuaDecoder, error) {
	source := script
	if source == "" {
		source = DefaultLuaScript
	} else if content, err := os.ReadFile(script); err == nil {
		source = string(content)
	}

	L := lua.NewState()
	L.OpenLibs()
	d := &LuaDecoder{state: L}
	L.Register(luaTooShortFunc, d.payloadTooShort)

	if status := L.LoadString(source); status != 0 {
		msg := L.ToString(-1)
		L.Close()
		return nil, &LuaError{Type: "syntax", Message: msg}
	}
	if err := L.Call(0, 0); err != nil {
		L.Close()
		return nil, &LuaError{Type: "runtime", Message: err.Error()}
	}

	L.GetGlobal(luaDecodeFunc)
	defined := L.IsFunction(-1)
	L.Pop(1)
	if !defined {
		L.Close()
		return nil, &LuaError{Type: "api", Message: "script does not define function decode(payload)"}
	}

	return d, nil
}

// payloadTooShort backs payload_too_short(need); need defaults to the
// LYWSD03MMC length.
func (d *LuaDecoder) payloadTooShort(L *lua.State) int {
	need := LYWSD03MMCPayloadLen
	if L.GetTop() >= 1 && L.IsNumber(1) {
		need = L.ToInteger(1)
	}
	d.need = need
	return 0
}

// Decode calls decode(payload) with the payload as a Lua string.
func (d *LuaDecoder) Decode(payload []byte) (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == nil {
		return Reading{}, &LuaError{Type: "api", Message: "decoder closed"}
	}
	L := d.state

	d.need = 0
	L.GetGlobal(luaDecodeFunc)
	L.PushString(string(payload))
	if err := L.Call(1, 2); err != nil {
		return Reading{}, &LuaError{Type: "runtime", Message: err.Error()}
	}
	defer L.Pop(2)

	if d.need > 0 {
		return Reading{}, &PayloadError{Len: len(payload), Need: d.need}
	}

	if !L.IsNumber(-2) || !L.IsNumber(-1) {
		return Reading{}, &LuaError{Type: "api", Message: "decode must return temperature, humidity"}
	}
	temp := L.ToNumber(-2)
	humid := L.ToInteger(-1)
	if humid < 0 || humid > 255 {
		return Reading{}, &LuaError{Type: "api", Message: fmt.Sprintf("humidity %d out of range", humid)}
	}

	return Reading{Temperature: temp, Humidity: uint8(humid)}, nil
}

// Close releases the Lua state.
func (d *LuaDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != nil {
		d.state.Close()
		d.state = nil
	}
}
