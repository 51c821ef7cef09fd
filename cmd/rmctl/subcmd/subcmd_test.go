package subcmd

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Env) error { return nil }
	mods := []Mod{
		{Name: "info", Usage: "show version", Main: noop},
		{Name: "sim", Usage: "run fake robot", Main: noop},
	}
	m, err := Parse("sim", mods)
	require.NoError(t, err)
	assert.Equal(t, "sim", m.Name)

	_, err = Parse("", mods)
	assert.True(t, errors.IsNotValid(err))
	_, err = Parse("dance", mods)
	assert.True(t, errors.IsNotFound(err))
	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{}}) })

	assert.Equal(t, "  info     show version\n  sim      run fake robot\n", Usage(mods))
}
