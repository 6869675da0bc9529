package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/gocontext-index/pkg/types"
)

const goSource = `package sample

import (
	"fmt"
	"strings"
)

// Greeter says hello to people by name.
type Greeter struct {
	Prefix string
}

// Greet returns a greeting for name using the configured prefix.
func (g *Greeter) Greet(name string) string {
	return fmt.Sprintf("%s, %s", g.Prefix, strings.TrimSpace(name))
}

// NewGreeter builds a greeter with the default English prefix.
func NewGreeter() *Greeter {
	return &Greeter{Prefix: "Hello"}
}

const (
	DefaultPrefix = "Hello there, this constant group is long enough"
	OtherPrefix   = "Hi"
)

func tiny() {}
`

func TestNew_Defaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, DefaultMaxBlockChars, c.maxChars)
	assert.Equal(t, DefaultMinBlockChars, c.minChars)

	c = New(Options{MaxBlockChars: 10, MinBlockChars: 50})
	assert.Equal(t, 10, c.minChars, "min is clamped to max")
}

func TestChunk_GoDeclarations(t *testing.T) {
	c := New(Options{})
	blocks := c.Chunk("sample/greeter.go", []byte(goSource))

	byName := make(map[string]types.Block)
	for _, b := range blocks {
		byName[b.Name] = b
	}

	greeter, ok := byName["Greeter"]
	require.True(t, ok)
	assert.Equal(t, types.BlockType, greeter.Kind)
	assert.Equal(t, 8, greeter.StartLine, "doc comment is part of the block")
	assert.Equal(t, 11, greeter.EndLine)
	assert.True(t, strings.HasPrefix(greeter.Content, "// Greeter says hello"))

	method, ok := byName["Greeter.Greet"]
	require.True(t, ok)
	assert.Equal(t, types.BlockMethod, method.Kind)
	assert.Contains(t, method.Content, "fmt.Sprintf")

	fn, ok := byName["NewGreeter"]
	require.True(t, ok)
	assert.Equal(t, types.BlockFunction, fn.Kind)

	consts, ok := byName["DefaultPrefix,OtherPrefix"]
	require.True(t, ok)
	assert.Equal(t, types.BlockDecl, consts.Kind)

	_, ok = byName["tiny"]
	assert.False(t, ok, "fragments below the minimum are skipped")

	for _, b := range blocks {
		assert.NotContains(t, b.Content, "import (", "imports are not emitted")
		assert.Equal(t, types.ContentHash([]byte(goSource)), b.FileHash)
		assert.NotEmpty(t, b.SegmentHash)
		assert.NoError(t, b.Validate())
	}
}

func TestChunk_GenericReceiver(t *testing.T) {
	src := `package sample

// Get returns the value stored under key, or the zero value when missing.
func (m *Map[K, V]) Get(key K) V {
	return m.items[key]
}
`
	blocks := New(Options{}).Chunk("m.go", []byte(src))
	require.Len(t, blocks, 1)
	assert.Equal(t, "Map.Get", blocks[0].Name)
}

func TestChunk_SyntaxErrorFallsBackToWindows(t *testing.T) {
	src := "package broken\n\nfunc {{{ this is not go at all but it is long enough to keep\n"
	blocks := New(Options{}).Chunk("broken.go", []byte(src))
	require.NotEmpty(t, blocks)
	for _, b := range blocks {
		assert.NotEmpty(t, b.Content)
	}
}

func TestChunk_NonGoWindows(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("line of markdown text that is reasonably long ")
		sb.WriteString(strings.Repeat("x", 10))
		sb.WriteString("\n")
	}
	content := sb.String()

	c := New(Options{MaxBlockChars: 500, MinBlockChars: 10})
	blocks := c.Chunk("README.md", []byte(content))
	require.Greater(t, len(blocks), 1)

	prevEnd := 0
	for _, b := range blocks {
		assert.Equal(t, types.BlockWindow, b.Kind)
		assert.LessOrEqual(t, len(b.Content), 500)
		assert.Equal(t, prevEnd+1, b.StartLine, "windows are contiguous")
		assert.Equal(t, b.EndLine-b.StartLine+1, strings.Count(b.Content, "\n")+1)
		prevEnd = b.EndLine
	}
	assert.Equal(t, 40, prevEnd, "trailing newline does not add a line")
}

func TestChunk_OversizeLineIsCut(t *testing.T) {
	var lb strings.Builder
	for i := 0; i < 250; i++ {
		lb.WriteByte(byte('a' + i%26))
	}
	long := lb.String()
	c := New(Options{MaxBlockChars: 100, MinBlockChars: 1})
	blocks := c.Chunk("data.txt", []byte("head line\n"+long+"\ntail line\n"))

	require.Len(t, blocks, 5)
	assert.Equal(t, "head line", blocks[0].Content)
	for _, b := range blocks[1:4] {
		assert.Equal(t, 2, b.StartLine)
		assert.Equal(t, 2, b.EndLine)
		assert.LessOrEqual(t, len(b.Content), 100)
	}
	assert.Equal(t, "tail line", blocks[4].Content)
	assert.Equal(t, 3, blocks[4].StartLine)
}

func TestChunk_OversizeDeclarationSplit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("package big\n\nfunc Big() {\n")
	for i := 0; i < 100; i++ {
		sb.WriteString("\tprintln(\"some fairly long statement in a big function body\")\n")
	}
	sb.WriteString("}\n")

	c := New(Options{MaxBlockChars: 1000, MinBlockChars: 10})
	blocks := c.Chunk("big.go", []byte(sb.String()))
	require.Greater(t, len(blocks), 1)
	for _, b := range blocks {
		assert.Equal(t, types.BlockFunction, b.Kind)
		assert.Equal(t, "Big", b.Name)
		assert.LessOrEqual(t, len(b.Content), 1000)
	}
	assert.Equal(t, 3, blocks[0].StartLine)
	assert.Equal(t, 104, blocks[len(blocks)-1].EndLine)
}

func TestChunk_DuplicatesAndEmpty(t *testing.T) {
	c := New(Options{MaxBlockChars: 60, MinBlockChars: 1})
	assert.Empty(t, c.Chunk("empty.txt", []byte("  \n\n")))

	blocks := c.Chunk("dup.txt", []byte("same\nsame\n"))
	assert.Len(t, blocks, 1, "both lines fit in one window")

	a := c.Chunk("x.txt", []byte("content"))
	b := c.Chunk("x.txt", []byte("content"))
	require.Len(t, a, 1)
	assert.Equal(t, a[0].SegmentHash, b[0].SegmentHash, "chunking is deterministic")
}

func TestChunk_CRLF(t *testing.T) {
	src := "package crlf\r\n\r\n// Hello returns a friendly greeting string for callers.\r\nfunc Hello() string {\r\n\treturn \"hello\"\r\n}\r\n"
	blocks := New(Options{}).Chunk("crlf.go", []byte(src))
	require.Len(t, blocks, 1)
	assert.NotContains(t, blocks[0].Content, "\r")
	assert.Equal(t, 3, blocks[0].StartLine)
	assert.Equal(t, 6, blocks[0].EndLine)
}

func TestChunk_LongLineKeepsRunesIntact(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		content string
	}{
		{"two byte runes", Options{}, "x" + strings.Repeat("é", 5000)},
		{"four byte runes", Options{MaxBlockChars: 101, MinBlockChars: 1}, strings.Repeat("🙂", 300)},
		{"window smaller than rune", Options{MaxBlockChars: 1, MinBlockChars: 1}, "ééé"},
		{"invalid bytes", Options{MaxBlockChars: 64, MinBlockChars: 1}, "ok \xff\xfe " + strings.Repeat("ü", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := New(tt.opts).Chunk("notes.md", []byte(tt.content))
			require.NotEmpty(t, blocks)
			for _, b := range blocks {
				assert.True(t, utf8.ValidString(b.Content), "block at line %d is not valid UTF-8", b.StartLine)
				assert.NoError(t, b.Validate())
			}
		})
	}
}
