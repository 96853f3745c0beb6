package progress

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAccumulatesCurrentAndLogsWhenNotATerminal(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	bar := New("scanning pool", 100, nil, logger)
	bar.Add(40)
	bar.Done()

	assert.Equal(t, int64(40), bar.current)
	require.True(t, len(hook.Entries) > 0)
	last := hook.LastEntry()
	assert.Equal(t, "scanning pool", last.Message)
	assert.EqualValues(t, 40, last.Data["current"])
	assert.EqualValues(t, 100, last.Data["total"])
}

func TestAddWithoutTotalOmitsTotalField(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	bar := New("replaying tree", 0, nil, logger)
	bar.Add(5)
	bar.Done()

	last := hook.LastEntry()
	_, hasTotal := last.Data["total"]
	assert.False(t, hasTotal)
}
