package geo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsClassifiesByKind(t *testing.T) {
	err := NewError(KindNetworkUnreachable, "dns lookup failed: %s", "timeout")
	assert.True(t, errors.Is(err, ErrNetworkUnreachable))
	assert.False(t, errors.Is(err, ErrPending))
}

func TestKindOf(t *testing.T) {
	err := NewError(KindServerError, "")
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindServerError, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)

	_, ok = KindOf(nil)
	assert.False(t, ok)
}

func TestErrorMessageFormatting(t *testing.T) {
	noDetail := NewError(KindPending, "")
	assert.Equal(t, "pending", noDetail.Error())

	withDetail := NewError(KindParseError, "unexpected token %q", "}")
	assert.Equal(t, `parse error: unexpected token "}"`, withDetail.Error())
}
