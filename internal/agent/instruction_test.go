package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectState(t *testing.T) {
	out, err := InjectState("Access the {geocode} and get directions.", map[string]string{"geocode": `{"source":1}`})
	require.NoError(t, err)
	assert.Equal(t, `Access the {"source":1} and get directions.`, out)
}

func TestInjectStateLeavesJSONExamplesAlone(t *testing.T) {
	instr := "Output: {'Source' : {'Longitude': 77.09}}"
	out, err := InjectState(instr, nil)
	require.NoError(t, err)
	assert.Equal(t, instr, out)
}

func TestInjectStateMissingKey(t *testing.T) {
	_, err := InjectState("Use {directions}.", map[string]string{})
	require.ErrorIs(t, err, ErrMissingStateKey)
	assert.Contains(t, err.Error(), "directions")
}

func TestInjectStateOptionalKey(t *testing.T) {
	out, err := InjectState("News: {news?}.", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "News: .", out)
}
