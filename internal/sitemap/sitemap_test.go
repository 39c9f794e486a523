package sitemap_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortdash/internal/breathecode"
	"cohortdash/internal/breathecode/breathecodetest"
	"cohortdash/internal/domain"
	"cohortdash/internal/sitemap"
)

func fakeRegistry(t *testing.T) (*breathecodetest.Fake, *breathecode.Client) {
	t.Helper()
	fake := &breathecodetest.Fake{
		PublicSyllabi: []map[string]string{{"slug": "full-stack"}},
		AssetLists: map[string][]domain.Asset{
			"lesson":   {{Slug: "what-is-html"}},
			"exercise": {{Slug: "01-hello"}},
			"project":  {{Slug: "todo-list"}},
			"ARTICLE":  {{Slug: "install-node"}},
		},
	}
	srv := fake.Start()
	t.Cleanup(srv.Close)
	return fake, breathecode.New(srv.URL, "")
}

func TestRoutes(t *testing.T) {
	_, client := fakeRegistry(t)
	routes, err := sitemap.Routes(context.Background(), client, sitemap.Options{
		StaticPages:     []string{"/index", "/about", "/profile/info", "/choose-program", "/lesson/[slug]", "/_app", "/api/hello"},
		PrivatePrefixes: []string{"/profile", "/choose-program"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/",
		"/about",
		"/read/full-stack",
		"/lesson/what-is-html",
		"/interactive-exercises/01-hello",
		"/project/todo-list",
		"/interactive-coding-tutorial/todo-list",
		"/how-to/install-node",
	}, routes)
}

func TestRoutesFailWhenAListingFails(t *testing.T) {
	fake, client := fakeRegistry(t)
	fake.Fail = map[string]int{"/v1/registry/asset": http.StatusBadGateway}
	_, err := sitemap.Routes(context.Background(), client, sitemap.Options{})
	assert.Error(t, err)
}

func TestGenerateWritesURLSet(t *testing.T) {
	_, client := fakeRegistry(t)
	var buf bytes.Buffer
	n, err := sitemap.Generate(context.Background(), &buf, client, sitemap.Options{
		WebsiteURL:  "https://4geeks.com/",
		StaticPages: []string{"/index"},
		Now:         func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(xml.Header)))

	var set sitemap.URLSet
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &set))
	require.Len(t, set.URLs, 7)
	assert.Equal(t, "https://4geeks.com", set.URLs[0].Loc)
	assert.Equal(t, "https://4geeks.com/read/full-stack", set.URLs[1].Loc)
	assert.Equal(t, "2024-03-01T10:00:00Z", set.URLs[1].LastMod)
	assert.Equal(t, "monthly", set.URLs[1].ChangeFreq)
	assert.Equal(t, "1.0", set.URLs[1].Priority)
}
