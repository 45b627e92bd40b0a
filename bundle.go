package hostplane

import (
	"fmt"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// BundleSource turns a tenant's saved TypeScript/JavaScript into the single
// self-contained script an engine context evaluates: esbuild transpiles and
// tree-links the source, then the ES module exports are rewritten onto
// globalThis.__tenant_module__ so the engine can reach the fetch handler
// without a module loader.
func BundleSource(source string) (string, error) {
	result := esbuild.Build(esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   source,
			Sourcefile: "app.ts",
			Loader:     esbuild.LoaderTS,
		},
		Bundle:      true,
		Format:      esbuild.FormatESModule,
		Write:       false,
		Platform:    esbuild.PlatformBrowser,
		Target:      esbuild.ES2022,
		TreeShaking: esbuild.TreeShakingFalse,
	})

	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling tenant source: %s", strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling produced no output")
	}

	return wrapModule(string(result.OutputFiles[0].Contents)), nil
}

// reExportBlock matches an export { ... } block at the end of a script,
// as produced by esbuild in ESM format.
var reExportBlock = regexp.MustCompile(`(?s)export\s*\{([^}]+)\}\s*;?\s*$`)

// reExportDefault matches "export default" at the start of a line, avoiding
// false positives inside string literals or comments.
var reExportDefault = regexp.MustCompile(`(?m)^export\s+default\s+`)

// reInlineExport matches inline named exports (export function, export const, etc.).
var reInlineExport = regexp.MustCompile(`export\s+(async\s+function|function|const|let|var|class)\s+(\w+)`)

// wrapModule rewrites an ES module so its exports land on
// globalThis.__tenant_module__. Handled patterns:
//
//  1. export default { fetch(request) { ... } }
//  2. export { name as default }  (esbuild output)
//  3. export { fetch }            (named exports)
//  4. export function fetch(...)  (inline named exports)
func wrapModule(source string) string {
	if loc := reExportDefault.FindStringIndex(source); loc != nil {
		return source[:loc[0]] + "globalThis.__tenant_module__ = " + source[loc[1]:]
	}

	if m := reExportBlock.FindStringSubmatchIndex(source); m != nil {
		defaultName, named := parseExportBlock(source[m[2]:m[3]])
		out := source[:m[0]]
		if defaultName != "" {
			out += "globalThis.__tenant_module__ = " + defaultName + ";\n"
		} else if len(named) > 0 {
			out += "globalThis.__tenant_module__ = { " + strings.Join(named, ", ") + " };\n"
		}
		return out
	}

	var names []string
	out := reInlineExport.ReplaceAllStringFunc(source, func(match string) string {
		parts := reInlineExport.FindStringSubmatch(match)
		names = append(names, parts[2])
		return parts[1] + " " + parts[2]
	})
	if len(names) > 0 {
		return out + "\nglobalThis.__tenant_module__ = { " + strings.Join(names, ", ") + " };\n"
	}

	// No exports at all: scripts may assign __tenant_module__ themselves.
	return source
}

// parseExportBlock splits the contents of an export { ... } block into the
// default export name (if any) and the named exports.
func parseExportBlock(block string) (defaultName string, names []string) {
	for _, entry := range strings.Split(block, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Fields(entry)
		switch {
		case len(parts) == 3 && parts[1] == "as" && parts[2] == "default":
			defaultName = parts[0]
		case len(parts) == 3 && parts[1] == "as":
			names = append(names, parts[2]+": "+parts[0])
		case len(parts) == 1:
			names = append(names, parts[0])
		}
	}
	return
}
