package worker

// Kernel is the compute capability a worker process delegates to. The
// core ships two reference kernels it tests transport behavior against;
// a real deployment swaps in a GPU-backed implementation without touching
// WorkerLoop.
type Kernel interface {
	// Text produces a deterministic transform of in, returning the
	// output bytes and a status code (0 success, nonzero failure).
	Text(in []byte) (out []byte, status uint32)
	// Audio consumes raw samples at sampleRate and produces mel
	// features, returning a status code (0 success, nonzero failure).
	Audio(sampleRate uint32, samples []float32) (mel []float32, status uint32)
}

// TextReverseKernel reverses its input byte string. It is the reference
// TextKernel: reverse(reverse(s)) == s for every ASCII s shorter than the
// text chunk size.
type TextReverseKernel struct{}

func (TextReverseKernel) Text(in []byte) ([]byte, uint32) {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out, 0
}

func (TextReverseKernel) Audio(_ uint32, samples []float32) ([]float32, uint32) {
	return mockMel(samples), 0
}

// MockMelKernel is a transport-test stand-in for the real DSP/ML kernel:
// it writes len(samples)/2 values of 0.5 rather than computing an actual
// mel spectrogram.
type MockMelKernel struct{}

func (MockMelKernel) Audio(_ uint32, samples []float32) ([]float32, uint32) {
	return mockMel(samples), 0
}

func (MockMelKernel) Text(in []byte) ([]byte, uint32) {
	out := make([]byte, len(in))
	copy(out, in)
	return out, 0
}

func mockMel(samples []float32) []float32 {
	out := make([]float32, len(samples)/2)
	for i := range out {
		out[i] = 0.5
	}
	return out
}
