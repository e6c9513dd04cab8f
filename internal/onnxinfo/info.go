// Package onnxinfo reads summary information from an ONNX model file without
// loading its weights into memory structures.
//
// Only the fields needed to sanity-check an export are decoded: the model
// header, the default-domain opset, and the graph's inputs, outputs, nodes and
// initializers. Unknown fields are skipped.
package onnxinfo

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Error definitions for the onnxinfo package.
var (
	ErrMalformed = errors.New("malformed onnx model")
	ErrInvalid   = errors.New("onnx model failed verification")
)

// Info summarizes an ONNX model.
type Info struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	OpsetVersion    int64
	GraphName       string
	HasGraph        bool
	Inputs          []Tensor
	Outputs         []Tensor
	NodeCount       int
	InitializerSize int
}

// Tensor is a named graph input or output.
type Tensor struct {
	Name     string
	ElemType int32
	Dims     []Dim
}

// Dim is a single dimension. Param is set for symbolic dimensions.
type Dim struct {
	Value int64
	Param string
}

// String renders the dimension as its value or symbolic name.
func (d Dim) String() string {
	if d.Param != "" {
		return d.Param
	}
	return strconv.FormatInt(d.Value, 10)
}

// Shape renders the tensor shape like [1 3 640 640].
func (t Tensor) Shape() string {
	parts := make([]string, len(t.Dims))
	for i, d := range t.Dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ReadFile parses the ONNX model at path.
func ReadFile(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read onnx model: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX ModelProto from bytes.
func Parse(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}

	info := &Info{}
	var initializers []string
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch {
		case num == 1 && typ == protowire.VarintType: // ir_version
			info.IRVersion = int64(v.u)
		case num == 2 && typ == protowire.BytesType: // producer_name
			info.ProducerName = string(v.b)
		case num == 3 && typ == protowire.BytesType: // producer_version
			info.ProducerVersion = string(v.b)
		case num == 7 && typ == protowire.BytesType: // graph
			info.HasGraph = true
			names, err := parseGraph(v.b, info)
			if err != nil {
				return fmt.Errorf("graph: %w", err)
			}
			initializers = names
		case num == 8 && typ == protowire.BytesType: // opset_import
			domain, version, err := parseOpset(v.b)
			if err != nil {
				return fmt.Errorf("opset_import: %w", err)
			}
			if domain == "" || domain == "ai.onnx" {
				info.OpsetVersion = version
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Older exporters list initializers among the graph inputs.
	if len(initializers) > 0 {
		skip := make(map[string]bool, len(initializers))
		for _, n := range initializers {
			skip[n] = true
		}
		inputs := info.Inputs[:0]
		for _, in := range info.Inputs {
			if !skip[in.Name] {
				inputs = append(inputs, in)
			}
		}
		info.Inputs = inputs
	}

	if info.IRVersion == 0 && !info.HasGraph {
		return nil, fmt.Errorf("%w: no ir_version or graph", ErrMalformed)
	}

	return info, nil
}

// stride is the largest feature stride of YOLO detection heads. The exporter
// rounds the requested image size up to a multiple of it.
const stride = 32

func strideAligned(size int) int {
	return (size + stride - 1) / stride * stride
}

// Verify checks that the model has a usable graph and, when its image input
// has static spatial dimensions, that they match imageSize rounded up to the
// model stride.
func Verify(info *Info, imageSize int) error {
	if info == nil || !info.HasGraph {
		return fmt.Errorf("%w: model has no graph", ErrInvalid)
	}
	if len(info.Inputs) == 0 {
		return fmt.Errorf("%w: graph has no inputs", ErrInvalid)
	}
	if len(info.Outputs) == 0 {
		return fmt.Errorf("%w: graph has no outputs", ErrInvalid)
	}

	if imageSize <= 0 {
		return nil
	}

	want := int64(strideAligned(imageSize))

	// NCHW image input
	in := info.Inputs[0]
	if len(in.Dims) != 4 {
		return nil
	}
	for _, d := range in.Dims[2:] {
		if d.Param == "" && d.Value > 0 && d.Value != want {
			return fmt.Errorf("%w: input %q has shape %s, expected spatial size %d", ErrInvalid, in.Name, in.Shape(), want)
		}
	}

	return nil
}

func parseGraph(data []byte, info *Info) ([]string, error) {
	var initializers []string
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1: // node
			info.NodeCount++
		case 2: // name
			info.GraphName = string(v.b)
		case 5: // initializer
			info.InitializerSize++
			name, err := parseTensorName(v.b)
			if err != nil {
				return fmt.Errorf("initializer: %w", err)
			}
			initializers = append(initializers, name)
		case 11: // input
			t, err := parseValueInfo(v.b)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}
			info.Inputs = append(info.Inputs, t)
		case 12: // output
			t, err := parseValueInfo(v.b)
			if err != nil {
				return fmt.Errorf("output: %w", err)
			}
			info.Outputs = append(info.Outputs, t)
		}
		return nil
	})
	return initializers, err
}

func parseOpset(data []byte) (string, int64, error) {
	var (
		domain  string
		version int64
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			domain = string(v.b)
		case num == 2 && typ == protowire.VarintType:
			version = int64(v.u)
		}
		return nil
	})
	return domain, version, err
}

func parseTensorName(data []byte) (string, error) {
	var name string
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		if num == 8 && typ == protowire.BytesType { // TensorProto.name
			name = string(v.b)
		}
		return nil
	})
	return name, err
}

// parseValueInfo decodes ValueInfoProto{name=1, type=2}, where
// TypeProto{tensor_type=1} and TypeProto.Tensor{elem_type=1, shape=2}.
func parseValueInfo(data []byte) (Tensor, error) {
	var t Tensor
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			t.Name = string(v.b)
		case 2:
			return walk(v.b, func(num protowire.Number, typ protowire.Type, v value) error {
				if num != 1 || typ != protowire.BytesType {
					return nil
				}
				return parseTensorType(v.b, &t)
			})
		}
		return nil
	})
	return t, err
}

func parseTensorType(data []byte, t *Tensor) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			t.ElemType = int32(v.u)
		case num == 2 && typ == protowire.BytesType:
			return walk(v.b, func(num protowire.Number, typ protowire.Type, v value) error {
				if num != 1 || typ != protowire.BytesType {
					return nil
				}
				d, err := parseDim(v.b)
				if err != nil {
					return err
				}
				t.Dims = append(t.Dims, d)
				return nil
			})
		}
		return nil
	})
}

func parseDim(data []byte) (Dim, error) {
	var d Dim
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			d.Value = int64(v.u)
		case num == 2 && typ == protowire.BytesType:
			d.Param = string(v.b)
		}
		return nil
	})
	return d, err
}

// value holds a decoded field: u for varints, b for length-delimited fields.
type value struct {
	u uint64
	b []byte
}

// walk iterates the fields of a protobuf message.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, v value) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		var v value
		switch typ {
		case protowire.VarintType:
			v.u, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			v.b, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}
