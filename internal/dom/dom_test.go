package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func TestHelpers(t *testing.T) {
	doc, err := Parse(`<div id="a" class="x ui-li-count"><p><strong>Sala:</strong> 101&nbsp; B</p><span>Per&#237;odo<br>6</span></div>`)
	require.NoError(t, err)

	div := First(doc, Is(atom.Div))
	require.NotNil(t, div)
	assert.Equal(t, "a", Attr(div, "id"))
	assert.True(t, HasClass(div, "ui-li-count"))
	assert.False(t, HasClass(div, "ui-li"))

	p := First(div, Is(atom.P))
	assert.Equal(t, "Sala: 101 B", Text(p, " "))
	assert.Equal(t, "101 B", OwnText(p, Is(atom.Strong)))

	span := First(div, Is(atom.Span))
	assert.Equal(t, "Período | 6", Text(span, " | "))

	strong := First(doc, Is(atom.Strong))
	assert.True(t, HasAncestor(strong, nil, atom.Div))
	assert.False(t, HasAncestor(strong, div, atom.Div))

	assert.Len(t, All(doc, func(n *html.Node) bool { return n.Type == html.ElementNode }), 8)
	assert.Len(t, Children(div, Is(atom.P)), 1)
}
