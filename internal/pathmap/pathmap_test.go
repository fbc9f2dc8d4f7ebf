package pathmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/pathmap"
)

func TestParseNominalFallbackNoRules(t *testing.T) {
	p := pathmap.New()
	b, err := p.Parse("/mypool:/path/to/file.root")
	require.NoError(t, err)
	require.Equal(t, "mypool", b.Pool)
	require.Equal(t, "/path/to/file.root", b.Object)
}

func TestParseCMSFallbackNoRules(t *testing.T) {
	p := pathmap.New()
	b, err := p.Parse("/store/mc/RunIISummer20/file.root")
	require.NoError(t, err)
	require.Equal(t, "cms", b.Pool)
	require.Equal(t, "store/mc/RunIISummer20/file.root", b.Object)
}

func TestParseOpaqueStripped(t *testing.T) {
	p := pathmap.New()
	b, err := p.Parse("/mypool:/path/to/file.root?xrd.opaque=info")
	require.NoError(t, err)
	require.Equal(t, "/path/to/file.root", b.Object)
}

func TestParseFromXMLRule(t *testing.T) {
	xmlDoc := `<storage>
  <lfn-to-pfn protocol="direct" path-match="^/data/(.*)$" result="datapool:/$1"/>
  <lfn-to-pfn protocol="xrootd" path-match="^/ignored/(.*)$" result="other:/$1"/>
</storage>`
	p, err := pathmap.FromBytes([]byte(xmlDoc))
	require.NoError(t, err)
	require.Len(t, p.Rules, 1)

	b, err := p.Parse("/data/sub/file.root")
	require.NoError(t, err)
	require.Equal(t, "datapool", b.Pool)
	require.Equal(t, "/sub/file.root", b.Object)
}

func TestParseUnmatchedRuleGroupErrors(t *testing.T) {
	xmlDoc := `<storage>
  <lfn-to-pfn protocol="direct" path-match="^/data/(.*)$" result="datapool:$2"/>
</storage>`
	p, err := pathmap.FromBytes([]byte(xmlDoc))
	require.NoError(t, err)

	_, err = p.Parse("/data/file.root")
	require.Error(t, err)
}

func TestParseUnconvertiblePath(t *testing.T) {
	p := pathmap.New()
	_, err := p.Parse("not-a-valid-path")
	require.Error(t, err)
}
