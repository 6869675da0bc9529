package chunker

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/gocontext-index/pkg/types"
)

const (
	// DefaultMaxBlockChars bounds the content of one block
	DefaultMaxBlockChars = 4000

	// DefaultMinBlockChars is the smallest block worth embedding
	DefaultMinBlockChars = 50
)

// Options controls block sizing
type Options struct {
	MaxBlockChars int
	MinBlockChars int
}

// Chunker slices source files into blocks
type Chunker struct {
	maxChars int
	minChars int
}

// New creates a Chunker. Zero options take the defaults.
func New(opts Options) *Chunker {
	c := &Chunker{maxChars: opts.MaxBlockChars, minChars: opts.MinBlockChars}
	if c.maxChars <= 0 {
		c.maxChars = DefaultMaxBlockChars
	}
	if c.minChars <= 0 {
		c.minChars = DefaultMinBlockChars
	}
	if c.minChars > c.maxChars {
		c.minChars = c.maxChars
	}
	return c
}

// Chunk splits content of the file at relPath into blocks. Go files are split
// per top-level declaration; everything else, and Go files that yield no
// declarations, falls back to line windows.
func (c *Chunker) Chunk(relPath string, content []byte) []types.Block {
	fileHash := types.ContentHash(content)
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	// Blocks must be valid UTF-8 to be embedded and stored unchanged.
	text = strings.ToValidUTF8(text, string(utf8.RuneError))
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	var raw []types.Block
	if strings.EqualFold(filepath.Ext(relPath), ".go") {
		raw = c.goDecls(relPath, text, lines)
	}
	if len(raw) == 0 {
		raw = c.windows(types.Block{FilePath: relPath, Kind: types.BlockWindow}, lines, 1)
	}

	seen := make(map[string]struct{}, len(raw))
	blocks := make([]types.Block, 0, len(raw))
	for _, b := range raw {
		if len(strings.TrimSpace(b.Content)) < c.minChars {
			continue
		}
		b.FileHash = fileHash
		seg := b.ComputeSegmentHash()
		if _, dup := seen[seg]; dup {
			continue
		}
		seen[seg] = struct{}{}
		blocks = append(blocks, b)
	}
	return blocks
}

// goDecls returns one block per top-level declaration. Syntax errors are
// tolerated as long as the parser produced a partial AST.
func (c *Chunker) goDecls(relPath, text string, lines []string) []types.Block {
	fset := token.NewFileSet()
	file, _ := parser.ParseFile(fset, relPath, text, parser.ParseComments)
	if file == nil {
		return nil
	}

	var blocks []types.Block
	for _, decl := range file.Decls {
		tmpl := types.Block{FilePath: relPath}
		var doc *ast.CommentGroup

		switch d := decl.(type) {
		case *ast.FuncDecl:
			doc = d.Doc
			tmpl.Name = d.Name.Name
			tmpl.Kind = types.BlockFunction
			if d.Recv != nil && len(d.Recv.List) > 0 {
				tmpl.Kind = types.BlockMethod
				if recv := receiverType(d.Recv.List[0].Type); recv != "" {
					tmpl.Name = recv + "." + d.Name.Name
				}
			}
		case *ast.GenDecl:
			if d.Tok == token.IMPORT {
				continue
			}
			doc = d.Doc
			tmpl.Kind = types.BlockDecl
			if d.Tok == token.TYPE {
				tmpl.Kind = types.BlockType
			}
			tmpl.Name = specNames(d)
		default:
			continue
		}

		start := fset.Position(decl.Pos()).Line
		if doc != nil {
			start = fset.Position(doc.Pos()).Line
		}
		end := fset.Position(decl.End()).Line
		if start <= 0 || end < start || start > len(lines) {
			continue
		}
		end = min(end, len(lines))

		content := strings.Join(lines[start-1:end], "\n")
		if len(content) <= c.maxChars {
			tmpl.StartLine, tmpl.EndLine, tmpl.Content = start, end, content
			blocks = append(blocks, tmpl)
			continue
		}
		blocks = append(blocks, c.windows(tmpl, lines[start-1:end], start)...)
	}
	return blocks
}

// windows packs consecutive lines into blocks of at most maxChars. A single
// line longer than maxChars is cut into pieces sharing its line number.
func (c *Chunker) windows(tmpl types.Block, lines []string, firstLine int) []types.Block {
	var blocks []types.Block
	var buf strings.Builder
	start, count := firstLine, 0

	emit := func(end int) {
		if count > 0 {
			b := tmpl
			b.StartLine, b.EndLine, b.Content = start, end, buf.String()
			blocks = append(blocks, b)
		}
		buf.Reset()
		count = 0
	}

	for i, line := range lines {
		lineNo := firstLine + i

		if len(line) > c.maxChars {
			emit(lineNo - 1)
			for off := 0; off < len(line); {
				end := cutPoint(line, off, c.maxChars)
				start = lineNo
				buf.WriteString(line[off:end])
				count = 1
				emit(lineNo)
				off = end
			}
			start = lineNo + 1
			continue
		}

		// +1 for the joining newline
		if count > 0 && buf.Len()+1+len(line) > c.maxChars {
			emit(lineNo - 1)
			start = lineNo
		}
		if count > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
		count++
	}
	emit(firstLine + len(lines) - 1)
	return blocks
}

// cutPoint returns the end of the piece of line starting at off: at most
// maxChars bytes, never inside a rune, and always past at least one rune.
func cutPoint(line string, off, maxChars int) int {
	end := min(off+maxChars, len(line))
	for end < len(line) && end > off && !utf8.RuneStart(line[end]) {
		end--
	}
	if end == off {
		_, size := utf8.DecodeRuneInString(line[off:])
		end = off + size
	}
	return end
}

// receiverType extracts the receiver type name from a method
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr: // generic receiver T[K]
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	}
	return ""
}

// specNames joins the declared names of a type, const or var group
func specNames(d *ast.GenDecl) string {
	var names []string
	for _, spec := range d.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			names = append(names, s.Name.Name)
		case *ast.ValueSpec:
			for _, n := range s.Names {
				if n.Name != "_" {
					names = append(names, n.Name)
				}
			}
		}
	}
	return strings.Join(names, ",")
}
