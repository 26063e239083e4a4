package worker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handika51/dispatchcore/worker"
)

func TestTextReverseKernelRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"a",
		"hello world",
		"the quick brown fox jumps over the lazy dog",
	}

	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			out, status := worker.TextReverseKernel{}.Text([]byte(in))
			require.Equal(t, uint32(0), status)

			back, status := worker.TextReverseKernel{}.Text(out)
			require.Equal(t, uint32(0), status)
			assert.Equal(t, in, string(back))
		})
	}
}

func TestTextReverseKernelReversesBytes(t *testing.T) {
	out, status := worker.TextReverseKernel{}.Text([]byte("abc"))
	require.Equal(t, uint32(0), status)
	assert.Equal(t, "cba", string(out))
}

func TestMockMelKernelLiteralScenario(t *testing.T) {
	samples := make([]float32, 401)
	mel, status := worker.MockMelKernel{}.Audio(16000, samples)

	require.Equal(t, uint32(0), status)
	require.Len(t, mel, 200)
	for _, v := range mel {
		assert.Equal(t, float32(0.5), v)
	}
}

func TestMockMelKernelTextIsIdentity(t *testing.T) {
	out, status := worker.MockMelKernel{}.Text([]byte("unchanged"))
	require.Equal(t, uint32(0), status)
	assert.Equal(t, "unchanged", string(out))
}
