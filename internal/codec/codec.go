// Package codec encodes models and training snapshots in protobuf wire format.
//
// The messages are hand-laid with protowire; there is no .proto file.
//
//	Model      { 1: repeated string labels; 2: repeated string attributes;
//	             3: Parameters params; 4: repeated Edge transitions;
//	             5: bool restricted }
//	Parameters { 1: num_features; 2: num_groups; 3: num_biases;
//	             4: packed fixed64 values }
//	Edge       { 1: sint64 from; 2: int64 to }
//	Snapshot   { 1: int64 iteration; 2: fixed64 value; 3: packed fixed64 params }
package codec

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/happyhackingspace/seqlab/crf"
)

// ErrMalformed reports bytes that do not decode as the expected message.
var ErrMalformed = errors.New("codec: malformed message")

const (
	modelLabels      protowire.Number = 1
	modelAttributes  protowire.Number = 2
	modelParams      protowire.Number = 3
	modelTransitions protowire.Number = 4
	modelRestricted  protowire.Number = 5

	paramsFeatures protowire.Number = 1
	paramsGroups   protowire.Number = 2
	paramsBiases   protowire.Number = 3
	paramsValues   protowire.Number = 4

	edgeFrom protowire.Number = 1
	edgeTo   protowire.Number = 2

	snapIteration protowire.Number = 1
	snapValue     protowire.Number = 2
	snapParams    protowire.Number = 3
)

// Snapshot is the optimizer state saved after one iteration.
type Snapshot struct {
	Iteration int
	Value     float64
	Params    []float64
}

// MarshalModel encodes a model.
func MarshalModel(m *crf.Model) []byte {
	var b []byte
	for _, s := range m.Labels.ToStr {
		b = protowire.AppendTag(b, modelLabels, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	for _, s := range m.Attributes.ToStr {
		b = protowire.AppendTag(b, modelAttributes, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	b = protowire.AppendTag(b, modelParams, protowire.BytesType)
	b = protowire.AppendBytes(b, MarshalParameters(m.Params))
	for _, e := range m.Transitions {
		var eb []byte
		eb = protowire.AppendTag(eb, edgeFrom, protowire.VarintType)
		eb = protowire.AppendVarint(eb, protowire.EncodeZigZag(int64(e.From)))
		eb = protowire.AppendTag(eb, edgeTo, protowire.VarintType)
		eb = protowire.AppendVarint(eb, uint64(e.To))
		b = protowire.AppendTag(b, modelTransitions, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	if m.Transitions != nil {
		b = protowire.AppendTag(b, modelRestricted, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

// UnmarshalModel decodes and validates a model.
func UnmarshalModel(b []byte) (*crf.Model, error) {
	labels, attrs := crf.NewAlphabet(), crf.NewAlphabet()
	var params *crf.Parameters
	var edges []crf.Edge
	restricted := false

	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == modelLabels && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			labels.Add(s)
			return n, nil
		case num == modelAttributes && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			attrs.Add(s)
			return n, nil
		case num == modelParams && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := UnmarshalParameters(v)
			if err != nil {
				return 0, err
			}
			params = p
			return n, nil
		case num == modelTransitions && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e, err := unmarshalEdge(v)
			if err != nil {
				return 0, err
			}
			edges = append(edges, e)
			return n, nil
		case num == modelRestricted && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			restricted = protowire.DecodeBool(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, fmt.Errorf("%w: model has no parameters", ErrMalformed)
	}
	if restricted && edges == nil {
		edges = []crf.Edge{}
	}
	m := &crf.Model{Labels: labels, Attributes: attrs, Params: params, Transitions: edges}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalEdge(b []byte) (crf.Edge, error) {
	var e crf.Edge
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeVarint(b)
		switch num {
		case edgeFrom:
			e.From = int(protowire.DecodeZigZag(v))
		case edgeTo:
			e.To = int(v)
		}
		return n, nil
	})
	return e, err
}

// MarshalParameters encodes a parameter vector with its layout.
func MarshalParameters(p *crf.Parameters) []byte {
	var b []byte
	b = protowire.AppendTag(b, paramsFeatures, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.NumFeatures))
	b = protowire.AppendTag(b, paramsGroups, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.NumGroups))
	b = protowire.AppendTag(b, paramsBiases, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.NumBiases))
	return appendPacked(b, paramsValues, p.Values)
}

// UnmarshalParameters decodes a parameter vector and checks its length
// against the layout.
func UnmarshalParameters(b []byte) (*crf.Parameters, error) {
	p := &crf.Parameters{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == paramsValues && typ == protowire.BytesType:
			vals, n, err := consumePacked(b)
			p.Values = vals
			return n, err
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case paramsFeatures:
				p.NumFeatures = int(v)
			case paramsGroups:
				p.NumGroups = int(v)
			case paramsBiases:
				p.NumBiases = int(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	if p.Values == nil {
		p.Values = []float64{}
	}
	if len(p.Values) != p.Len() {
		return nil, fmt.Errorf("%w: %d values for layout %d/%d/%d",
			ErrMalformed, len(p.Values), p.NumFeatures, p.NumGroups, p.NumBiases)
	}
	return p, nil
}

// MarshalSnapshot encodes an optimizer snapshot.
func MarshalSnapshot(s Snapshot) []byte {
	var b []byte
	b = protowire.AppendTag(b, snapIteration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Iteration))
	b = protowire.AppendTag(b, snapValue, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Value))
	return appendPacked(b, snapParams, s.Params)
}

// UnmarshalSnapshot decodes an optimizer snapshot.
func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == snapIteration && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			s.Iteration = int(v)
			return n, nil
		case num == snapValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			s.Value = math.Float64frombits(v)
			return n, nil
		case num == snapParams && typ == protowire.BytesType:
			vals, n, err := consumePacked(b)
			s.Params = vals
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return s, err
}

func appendPacked(b []byte, num protowire.Number, vals []float64) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(vals)))
	for _, v := range vals {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func consumePacked(b []byte) ([]float64, int, error) {
	raw, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n, nil
	}
	if len(raw)%8 != 0 {
		return nil, 0, fmt.Errorf("%w: packed doubles of %d bytes", ErrMalformed, len(raw))
	}
	vals := make([]float64, 0, len(raw)/8)
	for len(raw) > 0 {
		v, m := protowire.ConsumeFixed64(raw)
		vals = append(vals, math.Float64frombits(v))
		raw = raw[m:]
	}
	return vals, n, nil
}

// walk visits each field of a message. fn consumes the field value from b
// and returns its length, or a negative protowire error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
