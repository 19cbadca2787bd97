package clickhouse

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	t.Parallel()
	dsn := buildDSN(ClientConfig{
		Host:         "ch",
		Port:         9000,
		Database:     "zepix",
		User:         "default",
		Password:     "p@ss/word",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  30 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch:9000", u.Host)
	assert.Equal(t, "/zepix", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", pw)

	q := u.Query()
	assert.Equal(t, "5s", q.Get("dial_timeout"))
	assert.Equal(t, "30", q.Get("max_execution_time"))
	assert.Equal(t, "1", q.Get("async_insert"))
	assert.Equal(t, "1", q.Get("wait_for_async_insert"))
	assert.Empty(t, q.Get("write_timeout"))
}

func TestBuildDSNOverHTTP(t *testing.T) {
	t.Parallel()
	dsn := buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "zepix", UseHTTP: true})
	assert.Equal(t, "http://ch:8123/zepix", dsn)
}

func TestNewClientRequiresHost(t *testing.T) {
	t.Parallel()
	_, err := NewClient(WithPort(9000))
	assert.Error(t, err)
}
