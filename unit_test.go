// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit(t *testing.T) {
	var u Unit
	assert.Equal(t, Unit{}, u)

	// Unit is the input of argument-less operations.
	fn := FuncAdapter[Unit, int](func(ctx context.Context, _ Unit) (int, error) {
		return 7, nil
	})
	value, err := fn.Call(context.Background(), Unit{})
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}
