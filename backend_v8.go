//go:build v8

package hostplane

import (
	"github.com/cryguy/hostplane/internal/core"
	"github.com/cryguy/hostplane/internal/v8engine"
)

func newScriptEngine(cfg core.Config) ScriptEngine {
	return core.NewEngine(cfg, v8engine.New)
}
