package errs

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	cfg := Config("model not found", io.EOF)
	in := Input("cannot decode image", nil)

	assert.ErrorIs(t, cfg, ErrConfig)
	assert.ErrorIs(t, cfg, io.EOF)
	assert.NotErrorIs(t, cfg, ErrInput)
	assert.ErrorIs(t, in, ErrInput)

	assert.Equal(t, "model not found: EOF", cfg.Error())
	assert.Equal(t, "cannot decode image", in.Error())

	assert.Equal(t, "Configuration Error", Kind(cfg))
	assert.Equal(t, "Input Error", Kind(in))
	assert.Equal(t, "Error", Kind(errors.New("boom")))
}
