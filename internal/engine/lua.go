package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/kode4food/lru"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// LuaEnv evaluates sandboxed Lua condition predicates. Compiled chunks
	// are cached and interpreter states are pooled
	LuaEnv struct {
		statePool chan *lua.State
		scripts   *lru.Cache[*CompiledLua]
	}

	// CompiledLua is a predicate compiled to Lua bytecode
	CompiledLua struct {
		bytecode []byte
		argNames []api.Name
	}
)

const (
	luaStatePoolSize    = 10
	luaScriptCacheSize  = 1024
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaScriptSeparator  = "\n"
	luaGlobalTableName  = "_G"
)

var (
	ErrLuaCompile   = errors.New("lua compile error")
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewLuaEnv creates a Lua predicate environment
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		statePool: make(chan *lua.State, luaStatePoolSize),
		scripts:   lru.NewCache[*CompiledLua](luaScriptCacheSize),
	}
}

// Compile compiles a predicate whose arguments are bound as locals in the
// given order
func (e *LuaEnv) Compile(
	script string, argNames []api.Name,
) (*CompiledLua, error) {
	return e.scripts.Get(scriptCacheKey(script, argNames),
		func() (*CompiledLua, error) {
			return e.compile(script, argNames)
		},
	)
}

// EvaluatePredicate compiles (or reuses) the script and runs it against the
// provided inputs, returning the truthiness of its result
func (e *LuaEnv) EvaluatePredicate(
	script string, argNames []api.Name, inputs api.Args,
) (bool, error) {
	c, err := e.Compile(script, argNames)
	if err != nil {
		return false, err
	}

	L := e.getState()
	defer e.returnState(L)

	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		return false, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	for _, name := range c.argNames {
		pushLuaArg(L, inputs, name)
	}

	if err := L.ProtectedCall(len(c.argNames), 1, 0); err != nil {
		return false, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	result := L.ToBoolean(-1)
	L.Pop(1)
	return result, nil
}

func (e *LuaEnv) compile(
	script string, argNames []api.Name,
) (*CompiledLua, error) {
	argLocals := make([]string, len(argNames))
	for i, name := range argNames {
		argLocals[i] = fmt.Sprintf(luaArgLocalTemplate, name, i+1)
	}

	src := strings.Join([]string{
		strings.Join(argLocals, luaScriptSeparator), script,
	}, luaScriptSeparator)

	L := lua.NewState()
	e.setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaCompile, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaCompile, err)
	}

	return &CompiledLua{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

func (e *LuaEnv) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

func scriptCacheKey(script string, argNames []api.Name) string {
	var sb strings.Builder
	for _, n := range argNames {
		sb.WriteString(string(n))
		sb.WriteByte(',')
	}
	sb.WriteString(luaScriptSeparator)
	sb.WriteString(script)
	return sb.String()
}

func pushLuaArg(L *lua.State, inputs api.Args, name api.Name) {
	if value, ok := inputs[name]; ok {
		goToLua(L, value)
		return
	}
	L.PushNil()
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case json.Number:
		f, _ := v.Float64()
		L.PushNumber(f)
	case []any:
		pushLuaArray(L, v)
	case []string:
		arr := make([]any, len(v))
		for i, s := range v {
			arr[i] = s
		}
		pushLuaArray(L, arr)
	case map[string]any:
		pushLuaMap(L, v)
	case api.Args:
		pushLuaMap(L, v.ToMap())
	case nil:
		L.PushNil()
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaMapTableIndex)
	}
}
