// Package tflite runs the drum classifier through the TensorFlow Lite C API.
package tflite

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/mattn/go-tflite"

	"github.com/himanishpuri/drumscribe/internal/classifier"
)

// Model wraps one interpreter. Predict calls are serialised because an
// interpreter owns a single set of input and output tensors.
type Model struct {
	mu      sync.Mutex
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
}

// Load satisfies classifier.Loader.
func Load(path string) (classifier.Model, error) {
	m, err := Open(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Open reads a .tflite flatbuffer and allocates its tensors.
func Open(path string) (*Model, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("cannot load tflite model %s", path)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(runtime.NumCPU())

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("cannot create tflite interpreter")
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("allocate tensors: status %v", status)
	}

	return &Model{model: model, options: options, interp: interp}, nil
}

func (m *Model) Predict(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := m.interp.GetInputTensor(0)
	if in == nil {
		return nil, errors.New("model has no input tensor")
	}
	if want := int(in.ByteSize()) / 4; want != len(input) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), want)
	}
	if status := in.CopyFromBuffer(input); status != tflite.OK {
		return nil, fmt.Errorf("copy input: status %v", status)
	}
	if status := m.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("invoke: status %v", status)
	}

	out := m.interp.GetOutputTensor(0)
	if out == nil {
		return nil, errors.New("model has no output tensor")
	}
	probs := out.Float32s()
	res := make([]float32, len(probs))
	copy(res, probs)
	return res, nil
}

// Close releases the interpreter and model.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interp.Delete()
	m.options.Delete()
	m.model.Delete()
}
