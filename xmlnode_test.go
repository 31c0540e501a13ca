package camprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestedDoc = `<s:Envelope xmlns:s="urn:s" xmlns:a="urn:a" xmlns:b="urn:b">
	<s:Body>
		<a:List>
			<a:Item id="1"><b:Name> first </b:Name><a:Item id="nested"/></a:Item>
			<b:Item id="2"><b:Name>second</b:Name></b:Item>
		</a:List>
		<a:Name>outer</a:Name>
	</s:Body>
</s:Envelope>`

func TestNodeFindIgnoresPrefixes(t *testing.T) {
	doc := ParseXML([]byte(nestedDoc))
	require.NotNil(t, doc)

	assert.Equal(t, "Envelope", doc.Name())
	assert.Equal(t, "first", doc.Text("Name"), "first match in document order")
	assert.Equal(t, "1", doc.Find("Item").Attr("id"))

	names := doc.Find("Body").FindAll("Name")
	require.Len(t, names, 3)
	assert.Equal(t, "outer", names[2].Value())
}

func TestNodeFindAll(t *testing.T) {
	doc := ParseXML([]byte(nestedDoc))

	items := doc.FindAll("Item")
	require.Len(t, items, 2, "nested matches are not descended into")
	assert.Equal(t, "1", items[0].Attr("id"))
	assert.Equal(t, "2", items[1].Attr("id"))
	assert.Equal(t, "second", items[1].Text("Name"))
}

func TestNodeFindMatchesScope(t *testing.T) {
	doc := ParseXML([]byte("<d:XAddrs xmlns:d=\"urn:d\">http://10.0.0.9/onvif/device_service</d:XAddrs>"))
	require.NotNil(t, doc)

	assert.Equal(t, "http://10.0.0.9/onvif/device_service", doc.Text("XAddrs"))
	assert.Same(t, doc, doc.Find("XAddrs"))
	require.Len(t, doc.FindAll("XAddrs"), 1)

	item := ParseXML([]byte(nestedDoc)).Find("Item")
	assert.Equal(t, "1", item.Find("Item").Attr("id"), "the scope wins over a nested match")
}

func TestNilNodeIsEmpty(t *testing.T) {
	var n *Node
	assert.Nil(t, n.Find("x"))
	assert.Nil(t, n.FindAll("x"))
	assert.Empty(t, n.Name())
	assert.Empty(t, n.Value())
	assert.Empty(t, n.Text("x"))
	assert.Empty(t, n.Attr("x"))

	assert.Nil(t, ParseXML(nil))
	assert.Nil(t, ParseXML([]byte("   ")))
	assert.Nil(t, ParseXML([]byte("<broken")))
	assert.Empty(t, ParseXML([]byte("<broken")).Find("a").Text("b"))
}
