package hotlist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbols(t *testing.T) {
	out, err := NormalizeSymbols([]string{" eth ", "SOLUSDT", "eth", "", "doge"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT", "DOGEUSDT"}, out)

	_, err = NormalizeSymbols(nil)
	assert.Error(t, err)

	_, err = NormalizeSymbols([]string{"", "  "})
	assert.Error(t, err)
}

func TestParseResponses(t *testing.T) {
	p := NewHTTPSymbolProvider("http://example.test/latest", []string{"BTCUSDT"})

	out, err := p.parse(`["ethusdt", "SOLUSDT", "BTCUSDT"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, out)

	out, err = p.parse(`{"symbols": ["dogeusdt"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"DOGEUSDT"}, out)

	out, err = p.parse(`{"data":{"coins":[{"pair":"XRPUSDT"},{"pair":"BTCUSDT"},{"pair":""}]}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"XRPUSDT"}, out)

	_, err = p.parse(`{"whatever": 1}`)
	assert.Error(t, err)

	_, err = p.parse(`{"symbols": ["btc"]}`)
	assert.Error(t, err, "全部被排除后应报错")
}

type captureSink struct{ got [][]string }

func (c *captureSink) ReplaceHotSymbols(_ context.Context, symbols []string) error {
	c.got = append(c.got, symbols)
	return nil
}

type staticProvider struct{ symbols []string }

func (s staticProvider) List(context.Context) ([]string, error) { return s.symbols, nil }
func (s staticProvider) Name() string                           { return "static" }

func TestRefreshSkipsTopOfHour(t *testing.T) {
	sink := &captureSink{}
	r := NewRefresher(staticProvider{symbols: []string{"ETHUSDT"}}, sink, time.Minute)

	r.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC) }
	r.refresh(context.Background())
	assert.Empty(t, sink.got)

	r.now = func() time.Time { return time.Date(2024, 6, 1, 12, 10, 0, 0, time.UTC) }
	r.refresh(context.Background())
	require.Len(t, sink.got, 1)
	assert.Equal(t, []string{"ETHUSDT"}, sink.got[0])
}
