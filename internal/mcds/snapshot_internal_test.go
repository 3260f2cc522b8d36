package mcds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds/mcdstest"
)

func TestBuild_SnapshotLoggerSkipsNotices(t *testing.T) {
	opts := DefaultOptions()
	opts.PhysiBoSS = false
	opts.SettingsXML = ""
	for _, verbose := range []bool{false, true} {
		opts.Verbose = verbose
		opts.Logger = logging.Discard()
		s, err := Load(context.Background(), mcdstest.Write(t, t.TempDir(), mcdstest.Default()), opts)
		require.NoError(t, err)
		_, collecting := s.log.Handler().(*logging.Notices)
		assert.False(t, collecting, "verbose=%v", verbose)
	}
}
