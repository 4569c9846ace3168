package languages

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flanksource/code-ledger/models"
)

const sampleSource = `import { helper, format } from './util'
import Base from '../core/base'
import { Svc } from '@app/services'
import 'reflect-metadata'

export async function loadUser(id, opts) {
  return helper(id)
}

export class UserService extends Base implements Svc {
  name: string
  private cache: Map<string, string>

  async fetch(id) {
    return format(id)
  }
}

export interface User {
  id: string
}

export type UserID = string

export enum Role { Admin, Member }

const internalFlag = true
`

func parseSample(t *testing.T) (*TypeScriptFrontend, *ParsedFile) {
	t.Helper()
	frontend := NewTypeScriptFrontend()
	pf, err := frontend.Parse("src/user.ts", sampleSource)
	require.NoError(t, err)
	require.NotNil(t, pf.Program)
	return frontend, pf
}

func TestTypeScriptFrontend_Parse(t *testing.T) {
	_, pf := parseSample(t)

	require.Len(t, pf.Program.Imports, 4)
	assert.Equal(t, []string{"helper", "format"}, pf.Program.Imports[0].Names)
	assert.Equal(t, []string{"Base"}, pf.Program.Imports[1].Names)

	byName := lo.KeyBy(pf.Program.Decls, func(d Decl) string { return d.Name })

	fn := byName["loadUser"]
	assert.Equal(t, models.SymbolKindFunction, fn.Kind)
	assert.True(t, fn.IsExported)
	assert.True(t, fn.IsAsync)
	assert.Equal(t, 2, fn.ParamCount)

	cls := byName["UserService"]
	assert.Equal(t, models.SymbolKindClass, cls.Kind)
	assert.Equal(t, "Base", cls.Detail["extends"])

	assert.Equal(t, models.SymbolKindMethod, byName["fetch"].Kind)
	assert.Equal(t, models.SymbolKindProperty, byName["name"].Kind)
	assert.Equal(t, models.SymbolKindInterface, byName["User"].Kind)
	assert.Equal(t, models.SymbolKindType, byName["UserID"].Kind)
	assert.Equal(t, models.SymbolKindEnum, byName["Role"].Kind)

	internal := byName["internalFlag"]
	assert.Equal(t, models.SymbolKindVariable, internal.Kind)
	assert.False(t, internal.IsExported)
}

func TestTypeScriptFrontend_Extract(t *testing.T) {
	frontend, pf := parseSample(t)

	symbols := frontend.Extract(pf)
	byName := lo.KeyBy(symbols, func(s ExtractedSymbol) string { return s.Name })

	fn := byName["loadUser"]
	require.NotNil(t, fn.Signature)
	assert.Equal(t, "params:2|async:1", *fn.Signature)

	method := byName["fetch"]
	require.NotNil(t, method.Signature)
	assert.Equal(t, "params:1|async:1", *method.Signature)

	assert.Nil(t, byName["User"].Signature, "non-callables have no signature")
}

func TestTypeScriptFrontend_ExtractRelations(t *testing.T) {
	frontend, pf := parseSample(t)

	aliases := AliasTable{"@app/*": {"./src/app/*"}}
	relations := frontend.ExtractRelations(pf, aliases)

	var importDsts []string
	for _, rel := range relations {
		if rel.Type == models.RelationTypeImports && rel.DstSymbolName == nil {
			importDsts = append(importDsts, rel.DstFilePath)
		}
	}
	assert.ElementsMatch(t, []string{"src/util.ts", "core/base.ts", "src/app/services.ts"}, importDsts)

	hasCall := lo.ContainsBy(relations, func(rel CodeRelation) bool {
		return rel.Type == models.RelationTypeCalls &&
			rel.DstSymbolName != nil && *rel.DstSymbolName == "helper"
	})
	assert.True(t, hasCall, "calls of imported names become calls relations")

	hasExtends := lo.ContainsBy(relations, func(rel CodeRelation) bool {
		return rel.Type == models.RelationTypeExtends && rel.DstFilePath == "core/base.ts"
	})
	assert.True(t, hasExtends)

	hasImplements := lo.ContainsBy(relations, func(rel CodeRelation) bool {
		return rel.Type == models.RelationTypeImplements && rel.DstFilePath == "src/app/services.ts"
	})
	assert.True(t, hasImplements)
}

func TestResolveImport(t *testing.T) {
	aliases := AliasTable{"@app/*": {"./src/app/*"}}

	assert.Equal(t, "src/util.ts", ResolveImport("src/user.ts", "./util", aliases))
	assert.Equal(t, "core/base.ts", ResolveImport("src/user.ts", "../core/base", aliases))
	assert.Equal(t, "src/app/db.ts", ResolveImport("src/user.ts", "@app/db", aliases))
	assert.Equal(t, "", ResolveImport("src/user.ts", "lodash", aliases), "bare packages do not resolve")
}

func TestHashString(t *testing.T) {
	h := HashString("hello")
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashString("hello"))
	assert.NotEqual(t, h, HashString("hello!"))
}

func TestFingerprint(t *testing.T) {
	sig := "params:2|async:0"
	a := Fingerprint("loadUser", models.SymbolKindFunction, &sig)
	b := Fingerprint("loadUser", models.SymbolKindFunction, &sig)
	assert.Equal(t, a, b, "same identity hashes identically")

	c := Fingerprint("loadUser", models.SymbolKindMethod, &sig)
	assert.NotEqual(t, a, c, "kind participates in the fingerprint")

	d := Fingerprint("loadUser", models.SymbolKindFunction, nil)
	assert.NotEqual(t, a, d, "missing signature hashes as empty")
}
