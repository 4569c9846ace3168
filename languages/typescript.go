package languages

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/flanksource/code-ledger/models"
)

// TypeScriptFrontend is a line-oriented reference frontend for TypeScript-ish
// sources. It recognizes top-level declarations, class members, imports, and
// calls of imported names. It is deliberately shallow: real deployments
// inject a full parser behind the same interfaces, and the pipeline never
// depends on more than the Outline surface.
type TypeScriptFrontend struct{}

func NewTypeScriptFrontend() *TypeScriptFrontend {
	return &TypeScriptFrontend{}
}

var (
	reFunction  = regexp.MustCompile(`^(export\s+)?(default\s+)?(async\s+)?function\s+([A-Za-z_$][\w$]*)\s*\(([^)]*)\)`)
	reClass     = regexp.MustCompile(`^(export\s+)?(default\s+)?(abstract\s+)?class\s+([A-Za-z_$][\w$]*)(\s+extends\s+([A-Za-z_$][\w$.]*))?(\s+implements\s+([A-Za-z_$][\w$.,\s]*))?`)
	reInterface = regexp.MustCompile(`^(export\s+)?interface\s+([A-Za-z_$][\w$]*)(\s+extends\s+([A-Za-z_$][\w$.,\s]*))?`)
	reEnum      = regexp.MustCompile(`^(export\s+)?(const\s+)?enum\s+([A-Za-z_$][\w$]*)`)
	reTypeAlias = regexp.MustCompile(`^(export\s+)?type\s+([A-Za-z_$][\w$]*)\s*=`)
	reVariable  = regexp.MustCompile(`^(export\s+)?(const|let|var)\s+([A-Za-z_$][\w$]*)`)
	reMethod    = regexp.MustCompile(`^(public\s+|private\s+|protected\s+|static\s+)*(async\s+)?([A-Za-z_$][\w$]*)\s*\(([^)]*)\)\s*[:{]?`)
	reProperty  = regexp.MustCompile(`^(public\s+|private\s+|protected\s+|readonly\s+|static\s+)*([A-Za-z_$][\w$]*)\s*[?!]?\s*:\s*[^=;]+[;=]?`)
	reImport    = regexp.MustCompile(`^import\s+(?:type\s+)?(.+?)\s+from\s+['"]([^'"]+)['"]`)
	reBareImprt = regexp.MustCompile(`^import\s+['"]([^'"]+)['"]`)
)

var methodKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "new": true,
}

// Parse builds the Outline for one source file. It never fails on malformed
// input; unparsed lines are simply skipped and recorded as parse notes only
// when a brace imbalance is detected.
func (f *TypeScriptFrontend) Parse(filePath, sourceText string) (*ParsedFile, error) {
	pf := &ParsedFile{
		FilePath:   filePath,
		Program:    &Outline{},
		SourceText: sourceText,
	}

	lines := strings.Split(sourceText, "\n")
	depth := 0
	classDepth := -1 // brace depth at which the current class body started
	imbalanced := false

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		lineNo := i + 1
		col := leadingWhitespace(line) + 1

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "//"):
			if strings.HasPrefix(trimmed, "//") {
				pf.Comments = append(pf.Comments, Comment{Text: trimmed, StartLine: lineNo, EndLine: lineNo})
			}
		case depth == 0 && reImport.MatchString(trimmed):
			m := reImport.FindStringSubmatch(trimmed)
			pf.Program.Imports = append(pf.Program.Imports, ImportDecl{
				Path:  m[2],
				Names: importedNames(m[1]),
				Line:  lineNo,
			})
		case depth == 0 && reBareImprt.MatchString(trimmed):
			m := reBareImprt.FindStringSubmatch(trimmed)
			pf.Program.Imports = append(pf.Program.Imports, ImportDecl{Path: m[1], Line: lineNo})
		case depth == 0 && reFunction.MatchString(trimmed):
			m := reFunction.FindStringSubmatch(trimmed)
			pf.Program.Decls = append(pf.Program.Decls, Decl{
				Kind:       models.SymbolKindFunction,
				Name:       m[4],
				StartLine:  lineNo,
				StartCol:   col,
				EndLine:    lineNo,
				EndCol:     col + len(trimmed),
				IsExported: m[1] != "",
				IsAsync:    m[3] != "",
				ParamCount: countParams(m[5]),
			})
		case depth == 0 && reClass.MatchString(trimmed):
			m := reClass.FindStringSubmatch(trimmed)
			detail := map[string]any{}
			if m[6] != "" {
				detail["extends"] = m[6]
			}
			if m[8] != "" {
				detail["implements"] = splitNames(m[8])
			}
			pf.Program.Decls = append(pf.Program.Decls, Decl{
				Kind:       models.SymbolKindClass,
				Name:       m[4],
				StartLine:  lineNo,
				StartCol:   col,
				EndLine:    lineNo,
				EndCol:     col + len(trimmed),
				IsExported: m[1] != "",
				Detail:     detail,
			})
			classDepth = depth
		case depth == 0 && reInterface.MatchString(trimmed):
			m := reInterface.FindStringSubmatch(trimmed)
			detail := map[string]any{}
			if m[4] != "" {
				detail["extends"] = splitNames(m[4])
			}
			pf.Program.Decls = append(pf.Program.Decls, Decl{
				Kind:       models.SymbolKindInterface,
				Name:       m[2],
				StartLine:  lineNo,
				StartCol:   col,
				EndLine:    lineNo,
				EndCol:     col + len(trimmed),
				IsExported: m[1] != "",
				Detail:     detail,
			})
		case depth == 0 && reEnum.MatchString(trimmed):
			m := reEnum.FindStringSubmatch(trimmed)
			pf.Program.Decls = append(pf.Program.Decls, Decl{
				Kind:       models.SymbolKindEnum,
				Name:       m[3],
				StartLine:  lineNo,
				StartCol:   col,
				EndLine:    lineNo,
				EndCol:     col + len(trimmed),
				IsExported: m[1] != "",
			})
		case depth == 0 && reTypeAlias.MatchString(trimmed):
			m := reTypeAlias.FindStringSubmatch(trimmed)
			pf.Program.Decls = append(pf.Program.Decls, Decl{
				Kind:       models.SymbolKindType,
				Name:       m[2],
				StartLine:  lineNo,
				StartCol:   col,
				EndLine:    lineNo,
				EndCol:     col + len(trimmed),
				IsExported: m[1] != "",
			})
		case depth == 0 && reVariable.MatchString(trimmed):
			m := reVariable.FindStringSubmatch(trimmed)
			pf.Program.Decls = append(pf.Program.Decls, Decl{
				Kind:       models.SymbolKindVariable,
				Name:       m[3],
				StartLine:  lineNo,
				StartCol:   col,
				EndLine:    lineNo,
				EndCol:     col + len(trimmed),
				IsExported: m[1] != "",
			})
		case classDepth >= 0 && depth == classDepth+1:
			f.parseClassMember(pf, trimmed, lineNo, col)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
			imbalanced = true
		}
		if classDepth >= 0 && depth <= classDepth {
			classDepth = -1
		}
	}

	if imbalanced || depth != 0 {
		pf.Errors = append(pf.Errors, "unbalanced braces")
	}
	return pf, nil
}

func (f *TypeScriptFrontend) parseClassMember(pf *ParsedFile, trimmed string, lineNo, col int) {
	if m := reMethod.FindStringSubmatch(trimmed); m != nil && !methodKeywords[m[3]] {
		pf.Program.Decls = append(pf.Program.Decls, Decl{
			Kind:       models.SymbolKindMethod,
			Name:       m[3],
			StartLine:  lineNo,
			StartCol:   col,
			EndLine:    lineNo,
			EndCol:     col + len(trimmed),
			IsExported: !strings.HasPrefix(trimmed, "private"),
			IsAsync:    m[2] != "",
			ParamCount: countParams(m[4]),
		})
		return
	}
	if m := reProperty.FindStringSubmatch(trimmed); m != nil {
		pf.Program.Decls = append(pf.Program.Decls, Decl{
			Kind:       models.SymbolKindProperty,
			Name:       m[2],
			StartLine:  lineNo,
			StartCol:   col,
			EndLine:    lineNo,
			EndCol:     col + len(trimmed),
			IsExported: !strings.HasPrefix(trimmed, "private"),
		})
	}
}

// Extract converts the outline's declarations into extracted symbols,
// including the params:N|async:{0|1} signature for functions and methods.
func (f *TypeScriptFrontend) Extract(pf *ParsedFile) []ExtractedSymbol {
	if pf == nil || pf.Program == nil {
		return nil
	}
	symbols := make([]ExtractedSymbol, 0, len(pf.Program.Decls))
	for _, d := range pf.Program.Decls {
		sym := ExtractedSymbol{
			Kind:       d.Kind,
			Name:       d.Name,
			StartLine:  d.StartLine,
			StartCol:   d.StartCol,
			EndLine:    d.EndLine,
			EndCol:     d.EndCol,
			IsExported: d.IsExported,
			Detail:     d.Detail,
		}
		if d.Kind == models.SymbolKindFunction || d.Kind == models.SymbolKindMethod {
			sig := FormatSignature(d.ParamCount, d.IsAsync)
			sym.Signature = &sig
		}
		symbols = append(symbols, sym)
	}
	return symbols
}

// ExtractRelations derives imports edges (one per resolvable import
// specifier, plus one per imported name) and calls edges for imported names
// invoked in the file body. extends/implements recorded during parsing become
// edges against the defining file when the import resolves it.
func (f *TypeScriptFrontend) ExtractRelations(pf *ParsedFile, aliases AliasTable) []CodeRelation {
	if pf == nil || pf.Program == nil {
		return nil
	}

	var relations []CodeRelation
	importedFrom := map[string]string{} // symbol name -> resolved dst file

	for _, imp := range pf.Program.Imports {
		dst := ResolveImport(pf.FilePath, imp.Path, aliases)
		if dst == "" {
			continue // external package
		}
		relations = append(relations, CodeRelation{
			Type:        models.RelationTypeImports,
			DstFilePath: dst,
		})
		for _, name := range imp.Names {
			name := name
			relations = append(relations, CodeRelation{
				Type:          models.RelationTypeImports,
				DstFilePath:   dst,
				DstSymbolName: &name,
			})
			importedFrom[name] = dst
		}
	}

	for _, d := range pf.Program.Decls {
		if d.Kind != models.SymbolKindClass || d.Detail == nil {
			continue
		}
		src := d.Name
		if base, ok := d.Detail["extends"].(string); ok {
			if dst, found := importedFrom[base]; found {
				base := base
				relations = append(relations, CodeRelation{
					Type:          models.RelationTypeExtends,
					SrcSymbolName: &src,
					DstFilePath:   dst,
					DstSymbolName: &base,
				})
			}
		}
		if ifaces, ok := d.Detail["implements"].([]string); ok {
			for _, iface := range ifaces {
				if dst, found := importedFrom[iface]; found {
					iface := iface
					relations = append(relations, CodeRelation{
						Type:          models.RelationTypeImplements,
						SrcSymbolName: &src,
						DstFilePath:   dst,
						DstSymbolName: &iface,
					})
				}
			}
		}
	}

	body := stripImports(pf.SourceText)
	for name, dst := range importedFrom {
		if strings.Contains(body, name+"(") {
			name := name
			relations = append(relations, CodeRelation{
				Type:          models.RelationTypeCalls,
				DstFilePath:   dst,
				DstSymbolName: &name,
			})
		}
	}

	return relations
}

// ResolveImport maps an import specifier to a workspace-relative file path.
// Relative specifiers resolve against the importing file's directory; alias
// patterns resolve through the tsconfig paths table; anything else (a bare
// package) resolves to "".
func ResolveImport(srcFile, specifier string, aliases AliasTable) string {
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		resolved := path.Join(path.Dir(srcFile), specifier)
		return ensureSourceExt(resolved)
	}

	for pattern, targets := range aliases {
		prefix, ok := strings.CutSuffix(pattern, "*")
		if !ok {
			if specifier == pattern && len(targets) > 0 {
				return ensureSourceExt(strings.TrimPrefix(targets[0], "./"))
			}
			continue
		}
		if rest, found := strings.CutPrefix(specifier, prefix); found && len(targets) > 0 {
			target := strings.Replace(targets[0], "*", rest, 1)
			return ensureSourceExt(strings.TrimPrefix(path.Clean(target), "./"))
		}
	}
	return ""
}

// FormatSignature renders the stable signature string for callables.
func FormatSignature(paramCount int, async bool) string {
	a := "0"
	if async {
		a = "1"
	}
	return "params:" + strconv.Itoa(paramCount) + "|async:" + a
}

func ensureSourceExt(p string) string {
	if path.Ext(p) == "" {
		return p + ".ts"
	}
	return p
}

func importedNames(clause string) []string {
	clause = strings.TrimSpace(clause)
	var names []string
	if open := strings.Index(clause, "{"); open >= 0 {
		inner := clause[open+1:]
		if end := strings.Index(inner, "}"); end >= 0 {
			inner = inner[:end]
		}
		for _, part := range strings.Split(inner, ",") {
			name := strings.TrimSpace(part)
			if as := strings.Index(name, " as "); as >= 0 {
				name = strings.TrimSpace(name[as+4:])
			}
			if name != "" {
				names = append(names, name)
			}
		}
		clause = strings.TrimSpace(clause[:open])
		clause = strings.TrimSuffix(clause, ",")
	}
	if def := strings.TrimSpace(clause); def != "" && !strings.HasPrefix(def, "*") {
		names = append(names, def)
	}
	return names
}

func splitNames(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func countParams(params string) int {
	params = strings.TrimSpace(params)
	if params == "" {
		return 0
	}
	count, depth := 1, 0
	for _, r := range params {
		switch r {
		case '<', '(', '[', '{':
			depth++
		case '>', ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				count++
			}
		}
	}
	return count
}

func stripImports(source string) string {
	var b strings.Builder
	for _, line := range strings.Split(source, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "import ") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func leadingWhitespace(line string) int {
	for i, r := range line {
		if r != ' ' && r != '\t' {
			return i
		}
	}
	return len(line)
}
