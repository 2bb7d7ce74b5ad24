package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HDurna/drn-satis-yazilimi/internal/app"
	_ "github.com/HDurna/drn-satis-yazilimi/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
