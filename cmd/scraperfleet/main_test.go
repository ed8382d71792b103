// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("diagnose fillmore: %w", exitCodeError(2))

	var code exitCodeError
	require.True(t, errors.As(err, &code))
	assert.Equal(t, 2, int(code))
	assert.Equal(t, "exit status 2", code.Error())
}
