package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Parse_RSS(t *testing.T) {
	parsed, err := NewParser().Parse([]byte(testRSS))
	require.NoError(t, err)

	assert.Equal(t, "Example Feed", parsed.Title)
	require.Len(t, parsed.Items, 1)
	assert.Equal(t, "post-1", parsed.Items[0].GUID)
	assert.Equal(t, "https://example.com/posts/1", parsed.Items[0].URL)
	assert.Equal(t, "Hello world", parsed.Items[0].Content)
}

func TestParser_Parse_Atom(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <id>urn:feed</id>
  <updated>2025-01-01T00:00:00Z</updated>
  <entry>
    <title>Entry</title>
    <id>urn:entry-1</id>
    <link href="https://example.com/entries/1"/>
    <updated>2025-01-02T00:00:00Z</updated>
    <summary>Summary text</summary>
  </entry>
</feed>`

	parsed, err := NewParser().Parse([]byte(atom))
	require.NoError(t, err)

	assert.Equal(t, "Atom Feed", parsed.Title)
	require.Len(t, parsed.Items, 1)
	assert.Equal(t, "urn:entry-1", parsed.Items[0].GUID)
	require.NotNil(t, parsed.Items[0].PublishedAt)
}

func TestParser_Parse_DropsKeylessItems(t *testing.T) {
	rss := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Feed</title>
    <item><title>Keyless</title><description>no guid, no link</description></item>
    <item><title>Keyed</title><link>https://example.com/keyed</link></item>
  </channel>
</rss>`

	parsed, err := NewParser().Parse([]byte(rss))
	require.NoError(t, err)

	require.Len(t, parsed.Items, 1)
	assert.Equal(t, "Keyed", parsed.Items[0].Title)
}

func TestParser_Parse_Garbage(t *testing.T) {
	_, err := NewParser().Parse([]byte("this is not a feed"))
	assert.Error(t, err)
}
