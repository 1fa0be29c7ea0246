package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixKey(t *testing.T) {
	c := NewCatalog()

	t.Run("合法键原样返回", func(t *testing.T) {
		key, changed, err := c.FixKey("price:收盤價")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, "price:收盤價", key)
	})

	t.Run("英文别名", func(t *testing.T) {
		key, changed, err := c.FixKey("close")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "price:收盤價", key)
	})

	t.Run("简体写法", func(t *testing.T) {
		key, changed, err := c.FixKey("price:收盘价")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "price:收盤價", key)
	})

	t.Run("小笔误走编辑距离修复", func(t *testing.T) {
		key, changed, err := c.FixKey("price:收盤")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "price:收盤價", key)
	})

	t.Run("前后空白被裁掉", func(t *testing.T) {
		key, changed, err := c.FixKey(" etl:adj_close ")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "etl:adj_close", key)
	})

	t.Run("完全未知的键报错", func(t *testing.T) {
		_, _, err := c.FixKey("crypto:btc_price_usd")
		assert.Error(t, err)
	})

	t.Run("空键报错", func(t *testing.T) {
		_, _, err := c.FixKey("  ")
		assert.Error(t, err)
	})
}

func TestCatalogHas(t *testing.T) {
	c := NewCatalog()
	assert.True(t, c.Has("etl:adj_close"))
	assert.False(t, c.Has("close"))
	require.NotEmpty(t, c.Keys())
}
