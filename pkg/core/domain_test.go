package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyToken(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		tok := ProxyToken{Type: "model.Person", ID: "42"}
		assert.Equal(t, "42@model.Person", tok.Ref())

		parsed, err := ParseProxy(tok.Ref())
		require.NoError(t, err)
		assert.Equal(t, tok, parsed)
	})

	t.Run("identifier containing separator", func(t *testing.T) {
		parsed, err := ParseProxy("me@example.com@model.User")
		require.NoError(t, err)
		assert.Equal(t, "me@example.com", parsed.ID)
		assert.Equal(t, "model.User", parsed.Type)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, ref := range []string{"", "noseparator", "@type", "id@"} {
			_, err := ParseProxy(ref)
			assert.Error(t, err, ref)
		}
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "dirty", StateDirty.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
