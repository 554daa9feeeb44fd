//go:build rnnoise

package noise

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// rnnoiseSuppressor is the real denoiser capability: a single persistent
// RNNoise state processing 480-sample (10 ms) frames natively, no splitting
// required (RNNoise's own native frame size is 480).
type rnnoiseSuppressor struct {
	core
	st   *C.DenoiseState
	cIn  *C.float
	cOut *C.float
}

func newSuppressor() Suppressor {
	cIn := (*C.float)(C.malloc(C.size_t(FrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	cOut := (*C.float)(C.malloc(C.size_t(FrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	return &rnnoiseSuppressor{
		core: newCore(),
		st:   C.rnnoise_create(nil),
		cIn:  cIn,
		cOut: cOut,
	}
}

func (r *rnnoiseSuppressor) Process(frame []int16) {
	if len(frame) != FrameSize {
		return
	}

	r.mu.Lock()
	level := r.suppressionLevel
	r.mu.Unlock()

	inSlice := unsafe.Slice(r.cIn, FrameSize)
	outSlice := unsafe.Slice(r.cOut, FrameSize)

	for i, s := range frame {
		inSlice[i] = C.float(s)
	}

	// rnnoise_process_frame returns the VAD probability for this frame in
	// addition to writing the denoised samples to cOut.
	vadProb := float64(C.rnnoise_process_frame(r.st, r.cOut, r.cIn))

	var instantNoise float64
	for i := range frame {
		original := float64(inSlice[i])
		denoised := float64(outSlice[i])
		instantNoise += (original - denoised) * (original - denoised)
		blended := original*(1-level) + denoised*level
		frame[i] = clampSample16(blended)
	}
	instantNoise = instantNoise / float64(FrameSize) / (32768.0 * 32768.0)

	r.postProcess(frame, instantNoise, vadProb)
}

func (r *rnnoiseSuppressor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st != nil {
		C.rnnoise_destroy(r.st)
		r.st = nil
	}
	if r.cIn != nil {
		C.free(unsafe.Pointer(r.cIn))
		r.cIn = nil
	}
	if r.cOut != nil {
		C.free(unsafe.Pointer(r.cOut))
		r.cOut = nil
	}
	return nil
}
