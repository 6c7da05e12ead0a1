package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Storage("blob.put", errors.New("connection reset"))
	wrapped := fmt.Errorf("upload: %w", base)

	assert.Equal(t, KindStorage, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindStorage))
	assert.False(t, Is(wrapped, KindValidation))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindUnknown))
}

func TestUserMessageHidesInternals(t *testing.T) {
	assert.Equal(t, `unsupported file type "exe"`,
		UserMessage(Validationf("upload", "unsupported file type %q", "exe")))
	assert.Equal(t, CouldNotComplete,
		UserMessage(Storage("upload", errors.New("dial tcp 10.0.0.3:9000: i/o timeout"))))
	assert.Equal(t, CouldNotComplete, UserMessage(errors.New("boom")))
}
