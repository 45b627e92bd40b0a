//go:build !v8

package hostplane

import (
	"github.com/cryguy/hostplane/internal/core"
	"github.com/cryguy/hostplane/internal/quickjs"
)

func newScriptEngine(cfg core.Config) ScriptEngine {
	return core.NewEngine(cfg, quickjs.New)
}
